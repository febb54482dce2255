package vectorindex

import (
	"math"
	"strings"

	apierrors "github.com/kart-io/docask/pkg/errors"
)

// Metric 相似度度量，索引创建后不可更改。
type Metric string

const (
	// MetricCosine 余弦相似度。
	MetricCosine Metric = "cosine"
	// MetricInnerProduct 内积。
	MetricInnerProduct Metric = "inner_product"
)

// ParseMetric 解析度量名称。
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricCosine, "":
		return MetricCosine, nil
	case MetricInnerProduct, "ip", "dot":
		return MetricInnerProduct, nil
	}
	return "", apierrors.ErrInvalidArgument.WithMessagef("unknown similarity metric %q", s)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

// score 计算相似度，余弦度量下零向量得分为 0。
func (m Metric) score(query []float32, queryNorm float64, e *entry) float64 {
	d := dot(query, e.vector)
	if m == MetricInnerProduct {
		return d
	}
	if queryNorm == 0 || e.norm == 0 {
		return 0
	}
	return d / (queryNorm * e.norm)
}
