package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/domainx/internal/ratelimit"
)

// CountResult is the outcome of counting a listing endpoint.
// Empty is set when the repository has no commits yet.
type CountResult struct {
	Count int
	Empty bool
}

// CountResource counts the items behind a paginated listing by requesting one item per
// page and reading the last page number from the Link header.
func (c *Client) CountResource(ctx context.Context, path string, query url.Values) (CountResult, error) {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("per_page", "1")

	resp, err := c.Get(ctx, ratelimit.ClassCore, path, q, http.StatusConflict)
	if err != nil {
		return CountResult{}, err
	}

	if resp.StatusCode == http.StatusConflict {
		return CountResult{Count: 0, Empty: true}, nil
	}

	if last, ok := ParseLastPage(resp.Header.Get("Link")); ok {
		return CountResult{Count: last}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(resp.Body, &items); err != nil {
		return CountResult{}, nil
	}
	return CountResult{Count: len(items)}, nil
}

// ParseLastPage extracts the page query parameter of the rel="last" link.
func ParseLastPage(link string) (int, bool) {
	if link == "" {
		return 0, false
	}

	for _, part := range strings.Split(link, ",") {
		if !strings.Contains(part, `rel="last"`) {
			continue
		}

		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start < 0 || end <= start {
			return 0, false
		}

		u, err := url.Parse(part[start+1 : end])
		if err != nil {
			return 0, false
		}

		page := u.Query().Get("page")
		if page == "" {
			page = "1"
		}
		n, err := strconv.Atoi(page)
		if err != nil {
			return 0, false
		}
		return n, true
	}

	return 0, false
}
