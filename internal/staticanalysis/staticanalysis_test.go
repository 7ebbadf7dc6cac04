package staticanalysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
)

// fakeGit clones by creating the destination (last argument) with one file, or fails
// when the URL contains "missing".
const fakeGit = `#!/bin/sh
for last; do :; done
case "$*" in
  *missing*) echo "fatal: repository not found" >&2; exit 128 ;;
  *slow*) exec sleep 5 ;;
esac
mkdir -p "$last"
echo 'package main' > "$last/main.go"
`

const fakeSCC = `#!/bin/sh
cat <<'JSON'
[{"Name":"Go","Count":3,"Lines":120,"Code":90,"Comment":10,"Blank":20},
 {"Name":"Markdown","Count":1,"Lines":30,"Code":25,"Comment":0,"Blank":5}]
JSON
`

const fakeReportTool = `#!/bin/sh
mkdir -p gitstats_report/assets
echo '<html></html>' > gitstats_report/index.html
echo 'body{}' > gitstats_report/assets/style.css
`

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directories must be removed")
}

func TestParseLineCountsSumsRows(t *testing.T) {
	data := []byte(`[
		{"Name":"Go","Count":3,"Lines":120,"Code":90,"Comment":10,"Blank":20},
		{"language":"Python","nFiles":2,"lines":50,"code":40,"comments":4,"blanks":6}
	]`)

	lc, err := ParseLineCounts(data)
	require.NoError(t, err)
	assert.Equal(t, LineCounts{Files: 5, Lines: 170, Code: 130, Blank: 26, Comment: 14}, lc)
}

func TestParseLineCountsPrefersAggregateRow(t *testing.T) {
	data := []byte(`[
		{"Name":"Go","Files":3,"Lines":120,"Code":90,"Comment":10,"Blank":20},
		{"Name":"TOTAL","Files":4,"Lines":200,"Code":150,"Comment":20,"Blank":30}
	]`)

	lc, err := ParseLineCounts(data)
	require.NoError(t, err)
	assert.Equal(t, LineCounts{Files: 4, Lines: 200, Code: 150, Blank: 30, Comment: 20}, lc)
}

func TestParseLineCountsCorrectsZeroAggregateFields(t *testing.T) {
	data := []byte(`[
		{"Name":"Go","files":3,"Lines":120,"Code":90,"comments":10,"blanks":20},
		{"Name":"C","files":1,"Lines":20,"Code":15,"comments":2,"blanks":3},
		{"Name":"Sum","Lines":140,"Code":105}
	]`)

	lc, err := ParseLineCounts(data)
	require.NoError(t, err)
	assert.Equal(t, LineCounts{Files: 4, Lines: 140, Code: 105, Blank: 23, Comment: 12}, lc)
}

func TestParseLineCountsRejectsNonList(t *testing.T) {
	_, err := ParseLineCounts([]byte(`{"header":{}}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryData))
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	tb := newTailBuffer(4)
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defg"))
	assert.Equal(t, "defg", tb.String())
}

func TestRunStaticAnalysis(t *testing.T) {
	scratch := t.TempDir()
	runner := NewRunner(RunnerConfig{
		GitCommand:   writeScript(t, "git", fakeGit),
		LOCCommand:   []string{writeScript(t, "scc", fakeSCC)},
		ScratchDir:   scratch,
		CloneTimeout: 10 * time.Second,
	})

	metrics, err := runner.RunStaticAnalysis(context.Background(), "https://github.com/acme/widget")
	require.NoError(t, err)

	assert.Equal(t, map[string]int64{
		MetricTotalFiles:   4,
		MetricTotalLines:   150,
		MetricCodeLines:    115,
		MetricBlankLines:   25,
		MetricCommentLines: 10,
	}, metrics)
	assertEmptyDir(t, scratch)
}

func TestRunStaticAnalysisCloneFailure(t *testing.T) {
	scratch := t.TempDir()
	runner := NewRunner(RunnerConfig{
		GitCommand:   writeScript(t, "git", fakeGit),
		LOCCommand:   []string{writeScript(t, "scc", fakeSCC)},
		ScratchDir:   scratch,
		CloneTimeout: 10 * time.Second,
	})

	_, err := runner.RunStaticAnalysis(context.Background(), "https://github.com/acme/missing")
	require.Error(t, err)

	appErr := apperrors.ToAppError(err)
	assert.Equal(t, apperrors.CategoryClone, appErr.Category)
	stderr, _ := appErr.Detail("stderr")
	assert.Contains(t, stderr, "repository not found")
	assertEmptyDir(t, scratch)
}

func TestRunStaticAnalysisTimeout(t *testing.T) {
	scratch := t.TempDir()
	runner := NewRunner(RunnerConfig{
		GitCommand:   writeScript(t, "git", fakeGit),
		LOCCommand:   []string{writeScript(t, "scc", fakeSCC)},
		ScratchDir:   scratch,
		CloneTimeout: 100 * time.Millisecond,
	})

	_, err := runner.RunStaticAnalysis(context.Background(), "https://github.com/acme/slow")
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryTimeout))
	assertEmptyDir(t, scratch)
}

func TestRunStaticAnalysisToolFailure(t *testing.T) {
	scratch := t.TempDir()
	runner := NewRunner(RunnerConfig{
		GitCommand:   writeScript(t, "git", fakeGit),
		LOCCommand:   []string{writeScript(t, "scc", "#!/bin/sh\necho 'bad flag' >&2\nexit 2\n")},
		ScratchDir:   scratch,
		CloneTimeout: 10 * time.Second,
	})

	_, err := runner.RunStaticAnalysis(context.Background(), "https://github.com/acme/widget")
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryTool))
	assertEmptyDir(t, scratch)
}

func TestReportGeneratorPublishes(t *testing.T) {
	root := t.TempDir()
	gen := NewReportGenerator(ReportConfig{
		GitCommand:  writeScript(t, "git", fakeGit),
		Command:     []string{writeScript(t, "gitstats", fakeReportTool)},
		WorkDir:     filepath.Join(root, "work"),
		PublicDir:   filepath.Join(root, "public"),
		ToolTimeout: 10 * time.Second,
	})

	path, err := gen.Generate(context.Background(), "https://github.com/acme/widget", "lib-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "public", "lib-1"), path)

	info, err := os.Stat(filepath.Join(path, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(path, "assets"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	_, err = os.Stat(filepath.Join(root, "work", "lib-1"))
	assert.True(t, os.IsNotExist(err), "work clone must be removed")
}

func TestReportGeneratorMissingIndex(t *testing.T) {
	root := t.TempDir()
	gen := NewReportGenerator(ReportConfig{
		GitCommand:  writeScript(t, "git", fakeGit),
		Command:     []string{writeScript(t, "gitstats", "#!/bin/sh\nmkdir -p gitstats_report\n")},
		WorkDir:     filepath.Join(root, "work"),
		PublicDir:   filepath.Join(root, "public"),
		ToolTimeout: 10 * time.Second,
	})

	_, err := gen.Generate(context.Background(), "https://github.com/acme/widget", "lib-2")
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryTool))
}

func TestReportGeneratorKeepsPreviousReportOnFailure(t *testing.T) {
	root := t.TempDir()
	public := filepath.Join(root, "public")
	cfg := ReportConfig{
		GitCommand:  writeScript(t, "git", fakeGit),
		Command:     []string{writeScript(t, "gitstats", fakeReportTool)},
		WorkDir:     filepath.Join(root, "work"),
		PublicDir:   public,
		ToolTimeout: 10 * time.Second,
	}

	path, err := NewReportGenerator(cfg).Generate(context.Background(), "https://github.com/acme/widget", "lib-3")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "index.html"), []byte("served"), 0o644))

	cfg.Command = []string{writeScript(t, "gitstats", "#!/bin/sh\nmkdir -p gitstats_report\n")}
	_, err = NewReportGenerator(cfg).Generate(context.Background(), "https://github.com/acme/widget", "lib-3")
	require.Error(t, err)

	data, err := os.ReadFile(filepath.Join(path, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "served", string(data))

	entries, err := os.ReadDir(public)
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging directories must be removed")
	assert.Equal(t, "lib-3", entries[0].Name())

	// a successful run replaces the served report
	cfg.Command = []string{writeScript(t, "gitstats", fakeReportTool)}
	_, err = NewReportGenerator(cfg).Generate(context.Background(), "https://github.com/acme/widget", "lib-3")
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(path, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>\n", string(data))
}
