package api

import (
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries/aggregator"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// PartitionsResponse lists the stored days, oldest first
type PartitionsResponse struct {
	Partitions []string `json:"partitions"`
	Latest     string   `json:"latest,omitempty"`
}

// NamespacesResponse feeds the namespace filter widget
type NamespacesResponse struct {
	Partitions []string `json:"partitions"`
	Namespaces []string `json:"namespaces"`
}

// UsagePoint is one chart point
type UsagePoint struct {
	T int64   `json:"t"` // Unix timestamp in milliseconds
	V float64 `json:"v"`
}

// UsageResponse is what the visualization layer renders. Series are listed
// in Order, the first one on the baseline.
type UsageResponse struct {
	Metric     string                  `json:"metric"`
	Label      string                  `json:"label"`
	Title      string                  `json:"title"`
	TopN       int                     `json:"topN"`
	View       string                  `json:"view"`
	Bucket     string                  `json:"bucket,omitempty"`
	Partitions []string                `json:"partitions"`
	Order      []string                `json:"order"`
	Totals     map[string]float64      `json:"totals"`
	Series     map[string][]UsagePoint `json:"series"`
}

func newUsageResponse(result *aggregator.Result, partitions []timeseries.Partition) UsageResponse {
	resp := UsageResponse{
		Metric:     string(result.Metric),
		Label:      result.Label,
		Title:      result.Title,
		TopN:       result.TopN,
		View:       string(result.View),
		Partitions: partitionDays(partitions),
		Order:      result.Order,
		Totals:     result.Totals,
		Series:     make(map[string][]UsagePoint, len(result.Series)),
	}
	if result.View != aggregator.ViewLines {
		resp.Bucket = result.Bucket.String()
	}
	if resp.Order == nil {
		resp.Order = []string{}
	}
	if resp.Totals == nil {
		resp.Totals = map[string]float64{}
	}

	for pod, points := range result.Series {
		out := make([]UsagePoint, len(points))
		for i, p := range points {
			out[i] = UsagePoint{T: p.T.UnixMilli(), V: p.V}
		}
		resp.Series[pod] = out
	}
	return resp
}

func partitionDays(partitions []timeseries.Partition) []string {
	days := make([]string, len(partitions))
	for i, p := range partitions {
		days[i] = p.Day
	}
	return days
}
