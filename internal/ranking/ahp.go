package ranking

import (
	"fmt"
	"math"
	"sort"

	apperrors "github.com/ZanzyTHEbar/domainx/internal/errors"
)

// randomIndex holds Saaty's random consistency indices by matrix size.
var randomIndex = []float64{0, 0, 0, 0.58, 0.90, 1.12, 1.24, 1.32, 1.41, 1.45, 1.49, 1.51, 1.48, 1.56, 1.57, 1.59}

// Comparison is the outcome of one pairwise comparison.
type Comparison struct {
	Name             string                        `json:"name"`
	Scores           map[string]float64            `json:"scores"`
	Matrix           map[string]map[string]float64 `json:"matrix"`
	TargetWeights    map[string]float64            `json:"target_weights"`
	ConsistencyRatio float64                       `json:"consistency_ratio"`
}

// Compare derives priority weights from named positive scores. The ratio
// matrix a[i][j] = s[i]/s[j] is reduced by row geometric means and the result
// is normalized to sum to 1.
func Compare(name string, scores map[string]float64) (*Comparison, error) {
	if len(scores) == 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("comparison %q has no entries", name))
	}

	keys := make([]string, 0, len(scores))
	for k, s := range scores {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("comparison %q: score of %q must be positive and finite", name, k))
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := len(keys)
	matrix := make(map[string]map[string]float64, n)
	means := make([]float64, n)
	var sum float64

	for i, ki := range keys {
		row := make(map[string]float64, n)
		logSum := 0.0
		for _, kj := range keys {
			ratio := scores[ki] / scores[kj]
			row[kj] = ratio
			logSum += math.Log(ratio)
		}
		matrix[ki] = row
		means[i] = math.Exp(logSum / float64(n))
		sum += means[i]
	}

	weights := make(map[string]float64, n)
	for i, k := range keys {
		weights[k] = means[i] / sum
	}

	return &Comparison{
		Name:             name,
		Scores:           scores,
		Matrix:           matrix,
		TargetWeights:    weights,
		ConsistencyRatio: consistencyRatio(keys, matrix, weights),
	}, nil
}

func consistencyRatio(keys []string, matrix map[string]map[string]float64, weights map[string]float64) float64 {
	n := len(keys)
	if n < 3 {
		return 0
	}

	// lambda_max estimated from column sums weighted by priorities
	var lambda float64
	for _, kj := range keys {
		var col float64
		for _, ki := range keys {
			col += matrix[ki][kj]
		}
		lambda += col * weights[kj]
	}

	ci := (lambda - float64(n)) / float64(n-1)
	ri := randomIndex[len(randomIndex)-1]
	if n < len(randomIndex) {
		ri = randomIndex[n]
	}

	cr := ci / ri
	if cr < 0 {
		cr = 0
	}
	return round(cr, 4)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
