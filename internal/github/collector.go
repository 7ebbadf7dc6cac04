package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
	"github.com/ZanzyTHEbar/domainx/internal/ratelimit"
)

// Metric names produced by the collector.
const (
	MetricStars              = "Stars Count"
	MetricForks              = "Forks Count"
	MetricWatchers           = "Watchers Count"
	MetricOpenIssues         = "Open Issues Count"
	MetricOpenPullRequests   = "Open Pull Requests Count"
	MetricClosedPullRequests = "Closed Pull Requests Count"
	MetricCommits            = "Commit Count"
	MetricBranches           = "Branch Count"
	MetricRecentCommits      = "Commits Last 60 Months"
	MetricTextFiles          = "Text Files Count"
	MetricBinaryFiles        = "Binary Files Count"
)

const recentWindowMonths = 60

// TargetMetrics is the allow-list of names Collect may return.
var TargetMetrics = map[string]struct{}{
	MetricStars:              {},
	MetricForks:              {},
	MetricWatchers:           {},
	MetricOpenIssues:         {},
	MetricOpenPullRequests:   {},
	MetricClosedPullRequests: {},
	MetricCommits:            {},
	MetricBranches:           {},
	MetricRecentCommits:      {},
	MetricTextFiles:          {},
	MetricBinaryFiles:        {},
}

var binaryExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".ico", ".tif", ".tiff", ".webp", ".psd",
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".zip", ".tar", ".gz", ".tgz", ".bz2", ".xz", ".7z", ".rar", ".jar", ".war", ".whl",
	".exe", ".dll", ".so", ".dylib", ".a", ".o", ".obj", ".lib", ".bin", ".class", ".pyc", ".wasm",
	".mp3", ".mp4", ".wav", ".ogg", ".flac", ".avi", ".mov", ".mkv", ".webm",
	".ttf", ".otf", ".woff", ".woff2", ".eot",
	".db", ".sqlite", ".dat", ".pkl", ".npy", ".npz", ".h5", ".parquet",
}

// TreeEntry is one node of a recursive git tree listing.
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

type repoMetadata struct {
	Stars         json.Number `json:"stargazers_count"`
	Forks         json.Number `json:"forks_count"`
	Watchers      json.Number `json:"subscribers_count"`
	DefaultBranch string      `json:"default_branch"`
}

// Collector gathers remote repository metrics
type Collector struct {
	client *Client
	now    func() time.Time
}

// NewCollector creates a collector on top of client
func NewCollector(client *Client) *Collector {
	return &Collector{client: client, now: time.Now}
}

// Name identifies the collector in logs and errors
func (c *Collector) Name() string { return "github" }

// ParseRepoURL extracts owner and repository name from a repository URL
func ParseRepoURL(raw string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", apperrors.NewValidationError("invalid repository URL", raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", apperrors.NewValidationError(
			"invalid repository URL format (expected <host>/<owner>/<repo>)", raw)
	}

	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// Collect gathers every remote metric for the repository at repoURL
func (c *Collector) Collect(ctx context.Context, repoURL string) (map[string]int64, error) {
	owner, name, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	repoPath := fmt.Sprintf("/repos/%s/%s", owner, name)
	slug := owner + "/" + name

	meta, err := c.metadata(ctx, repoPath)
	if err != nil {
		return nil, err
	}

	raw := map[string]any{
		MetricStars:    meta.Stars,
		MetricForks:    meta.Forks,
		MetricWatchers: meta.Watchers,
	}

	searches := []struct {
		metric string
		query  string
	}{
		{MetricOpenIssues, fmt.Sprintf("repo:%s is:issue is:open", slug)},
		{MetricOpenPullRequests, fmt.Sprintf("repo:%s is:pr is:open", slug)},
		{MetricClosedPullRequests, fmt.Sprintf("repo:%s is:pr is:closed", slug)},
	}
	for _, s := range searches {
		n, err := c.searchTotal(ctx, s.query)
		if err != nil {
			return nil, err
		}
		raw[s.metric] = n
	}

	commits, err := c.client.CountResource(ctx, repoPath+"/commits", nil)
	if err != nil {
		return nil, err
	}
	raw[MetricCommits] = commits.Count

	branches, err := c.client.CountResource(ctx, repoPath+"/branches", nil)
	if err != nil {
		return nil, err
	}
	raw[MetricBranches] = branches.Count

	since := c.now().AddDate(0, -recentWindowMonths, 0).UTC().Format(time.RFC3339)
	recent, err := c.client.CountResource(ctx, repoPath+"/commits", url.Values{"since": {since}})
	if err != nil {
		return nil, err
	}
	raw[MetricRecentCommits] = recent.Count

	text, binary := c.fileCounts(ctx, repoPath, meta.DefaultBranch)
	raw[MetricTextFiles] = text
	raw[MetricBinaryFiles] = binary

	metrics := FilterMetrics(raw)
	slog.Info("Remote metrics collected", "repo", slug, "metrics", len(metrics))
	return metrics, nil
}

func (c *Collector) metadata(ctx context.Context, repoPath string) (*repoMetadata, error) {
	resp, err := c.client.Get(ctx, ratelimit.ClassCore, repoPath, nil)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()

	var meta repoMetadata
	if err := dec.Decode(&meta); err != nil {
		return nil, apperrors.NewDataError("failed to decode repository metadata", err)
	}
	return &meta, nil
}

func (c *Collector) searchTotal(ctx context.Context, query string) (json.Number, error) {
	var result struct {
		TotalCount json.Number `json:"total_count"`
	}

	resp, err := c.client.Get(ctx, ratelimit.ClassSearch, "/search/issues",
		url.Values{"q": {query}, "per_page": {"1"}})
	if err != nil {
		return "", err
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return "", apperrors.NewDataError("failed to decode search response", err)
	}
	if result.TotalCount == "" {
		return "0", nil
	}
	return result.TotalCount, nil
}

// fileCounts degrades to (0, 0) when the tree cannot be fetched.
func (c *Collector) fileCounts(ctx context.Context, repoPath, branch string) (int, int) {
	if branch == "" {
		branch = "HEAD"
	}

	var tree struct {
		Tree      []TreeEntry `json:"tree"`
		Truncated bool        `json:"truncated"`
	}
	path := fmt.Sprintf("%s/git/trees/%s", repoPath, url.PathEscape(branch))
	if err := c.client.GetJSON(ctx, ratelimit.ClassCore, path, url.Values{"recursive": {"1"}}, &tree); err != nil {
		slog.Warn("File tree unavailable, reporting zero file counts", "repo", repoPath, "error", err)
		return 0, 0
	}
	if tree.Truncated {
		slog.Warn("File tree truncated by the API, counts are partial", "repo", repoPath)
	}

	return ClassifyTree(tree.Tree)
}

// ClassifyTree counts text and binary blobs. Directory entries are ignored.
func ClassifyTree(entries []TreeEntry) (text, binary int) {
	for _, e := range entries {
		if e.Type != "blob" {
			continue
		}
		if IsBinaryPath(e.Path) {
			binary++
		} else {
			text++
		}
	}
	return text, binary
}

// IsBinaryPath reports whether path ends in a known binary extension, ignoring case
func IsBinaryPath(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range binaryExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// FilterMetrics keeps allow-listed names whose values are integers. Everything else is dropped.
func FilterMetrics(raw map[string]any) map[string]int64 {
	out := make(map[string]int64, len(raw))
	for name, value := range raw {
		if _, ok := TargetMetrics[name]; !ok {
			continue
		}
		n, ok := asInt(value)
		if !ok {
			slog.Debug("Metric value is not an integer; skipping", "metric_name", name, "value", value)
			continue
		}
		out[name] = n
	}
	return out
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
