// Package index stores passage vectors and answers top-k similarity
// queries. Search runs over an in-memory brute-force index; durability is a
// full SQLite snapshot.
package index

import "math"

// Metric is the similarity measure of an index instance, fixed at
// construction. Scores from different metrics are not comparable.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
)

// Score computes the similarity of two equal-length vectors under the
// metric. Callers guarantee matching dimensionality.
func (m Metric) Score(a, b []float32) float64 {
	switch m {
	case MetricDot:
		return dot(a, b)
	default:
		return cosine(a, b)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// cosine returns 0 for zero-magnitude vectors rather than an error; a
// blank passage simply never ranks.
func cosine(a, b []float32) float64 {
	var dp, na, nb float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dp += va * vb
		na += va * va
		nb += vb * vb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dp / (math.Sqrt(na) * math.Sqrt(nb))
}
