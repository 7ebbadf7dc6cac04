package staticanalysis

import (
	"encoding/json"
	"strings"

	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
)

// Metric names produced by the line counter.
const (
	MetricTotalFiles   = "Total Files"
	MetricTotalLines   = "Total Lines"
	MetricCodeLines    = "Code Lines"
	MetricBlankLines   = "Blank Lines"
	MetricCommentLines = "Comment Lines"
)

// Line counter output has used different spellings across tool versions.
var (
	nameKeys    = []string{"Name", "name", "language", "Language"}
	filesKeys   = []string{"Files", "Count", "nFiles", "files", "count"}
	linesKeys   = []string{"Lines", "lines"}
	codeKeys    = []string{"Code", "code"}
	commentKeys = []string{"Comment", "Comments", "comment", "comments"}
	blankKeys   = []string{"Blank", "blank", "blanks", "Blanks"}
)

// LineCounts is the aggregate of a line counting run.
type LineCounts struct {
	Files   int64
	Lines   int64
	Code    int64
	Blank   int64
	Comment int64
}

// Metrics returns the counts keyed by metric name
func (lc LineCounts) Metrics() map[string]int64 {
	return map[string]int64{
		MetricTotalFiles:   lc.Files,
		MetricTotalLines:   lc.Lines,
		MetricCodeLines:    lc.Code,
		MetricBlankLines:   lc.Blank,
		MetricCommentLines: lc.Comment,
	}
}

type row map[string]any

func (r row) name() string {
	for _, k := range nameKeys {
		if s, ok := r[k].(string); ok {
			return s
		}
	}
	return ""
}

func (r row) count(keys []string) int64 {
	for _, k := range keys {
		if f, ok := r[k].(float64); ok {
			return int64(f)
		}
	}
	return 0
}

func (r row) isAggregate() bool {
	name := strings.ToLower(strings.TrimSpace(r.name()))
	return name == "total" || name == "sum"
}

// ParseLineCounts parses the line counter's JSON list of per-language rows. An aggregate
// row named "total" or "sum" is preferred over summing the rows.
func ParseLineCounts(data []byte) (LineCounts, error) {
	var rows []row
	if err := json.Unmarshal(data, &rows); err != nil {
		return LineCounts{}, apperrors.NewDataError("line counter output is not a JSON list", err)
	}

	var aggregate row
	for _, r := range rows {
		if r.isAggregate() {
			aggregate = r
			break
		}
	}

	if aggregate == nil {
		var lc LineCounts
		for _, r := range rows {
			lc.add(r)
		}
		return lc, nil
	}

	lc := LineCounts{
		Files:   aggregate.count(filesKeys),
		Lines:   aggregate.count(linesKeys),
		Code:    aggregate.count(codeKeys),
		Blank:   aggregate.count(blankKeys),
		Comment: aggregate.count(commentKeys),
	}

	if lc.Blank == 0 || lc.Comment == 0 {
		var scanned LineCounts
		for _, r := range rows {
			if !r.isAggregate() {
				scanned.add(r)
			}
		}
		if lc.Blank == 0 {
			lc.Blank = scanned.Blank
		}
		if lc.Comment == 0 {
			lc.Comment = scanned.Comment
		}
		if lc.Files == 0 {
			lc.Files = scanned.Files
		}
	}

	return lc, nil
}

func (lc *LineCounts) add(r row) {
	lc.Files += r.count(filesKeys)
	lc.Lines += r.count(linesKeys)
	lc.Code += r.count(codeKeys)
	lc.Blank += r.count(blankKeys)
	lc.Comment += r.count(commentKeys)
}
