package aggregator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries"
)

// ErrInvalidArgument marks a query the caller must fix; it is never retried
var ErrInvalidArgument = errors.New("invalid argument")

// View selects how far down the pipeline a query goes
type View string

const (
	// ViewLines returns the raw rows of the top-N pods
	ViewLines View = "lines"
	// ViewBucketed resamples the top-N pods to the bucket maximum
	ViewBucketed View = "bucketed"
	// ViewStacked is ViewBucketed with every series accumulated onto the
	// ones before it on a shared time axis
	ViewStacked View = "stacked"
)

// ParseView validates a view name
func ParseView(s string) (View, error) {
	switch View(s) {
	case ViewLines, ViewBucketed, ViewStacked:
		return View(s), nil
	default:
		return "", fmt.Errorf("%w: unknown view %q", ErrInvalidArgument, s)
	}
}

// Query holds the filter values chosen in the visualization layer
type Query struct {
	Metric     timeseries.Metric
	TopN       int
	Namespaces []string // empty keeps every namespace
	Search     string   // case-insensitive pod name substring
	Bucket     time.Duration
	View       View
}

func (q Query) bucketed() bool {
	return q.View == ViewBucketed || q.View == ViewStacked
}

// Validate checks the caller contract
func (q Query) Validate() error {
	if _, err := timeseries.ParseMetric(string(q.Metric)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if q.TopN <= 0 {
		return fmt.Errorf("%w: top_n must be positive, got %d", ErrInvalidArgument, q.TopN)
	}
	if _, err := ParseView(string(q.View)); err != nil {
		return err
	}
	if q.bucketed() && q.Bucket <= 0 {
		return fmt.Errorf("%w: %s view needs a positive bucket width", ErrInvalidArgument, q.View)
	}
	return nil
}

// Result is a set of named series ready for rendering
type Result struct {
	Metric timeseries.Metric
	Label  string
	Title  string
	TopN   int
	View   View
	Bucket time.Duration
	// Order lists pods by descending total; the first one sits on the
	// baseline of a stacked chart.
	Order  []string
	Totals map[string]float64
	Series map[string][]timeseries.Point
}

// Aggregate runs filter, rank, resample and order over samples. It does not
// modify samples.
func Aggregate(samples []timeseries.Sample, q Query) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	filtered := Filter(samples, q.Namespaces, q.Search)
	top := TopN(filtered, q.Metric, q.TopN)

	var series map[string][]timeseries.Point
	if q.bucketed() {
		series = ResampleMax(top, q.Metric, q.Bucket)
	} else {
		series = Series(top, q.Metric)
	}

	order, totals := Order(series)
	if q.View == ViewStacked {
		series = Stack(order, series)
	}

	return &Result{
		Metric: q.Metric,
		Label:  q.Metric.Label(),
		Title:  Title(q),
		TopN:   q.TopN,
		View:   q.View,
		Bucket: q.Bucket,
		Order:  order,
		Totals: totals,
		Series: series,
	}, nil
}

// Filter keeps rows whose namespace is in namespaces (when given) and whose
// pod name contains search, ignoring case (when given).
func Filter(samples []timeseries.Sample, namespaces []string, search string) []timeseries.Sample {
	var allowed map[string]struct{}
	if len(namespaces) > 0 {
		allowed = make(map[string]struct{}, len(namespaces))
		for _, ns := range namespaces {
			allowed[ns] = struct{}{}
		}
	}
	needle := strings.ToLower(search)

	out := make([]timeseries.Sample, 0, len(samples))
	for _, s := range samples {
		if allowed != nil {
			if _, ok := allowed[s.Namespace]; !ok {
				continue
			}
		}
		if needle != "" && !strings.Contains(strings.ToLower(s.PodName), needle) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// TopN keeps the rows of the n pods with the greatest summed metric. Equal
// sums are ordered by pod name.
func TopN(samples []timeseries.Sample, metric timeseries.Metric, n int) []timeseries.Sample {
	totals := make(map[string]float64)
	for _, s := range samples {
		totals[s.PodName] += metric.Value(s)
	}

	ranked := rank(totals)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	keep := make(map[string]struct{}, len(ranked))
	for _, pod := range ranked {
		keep[pod] = struct{}{}
	}

	out := make([]timeseries.Sample, 0, len(samples))
	for _, s := range samples {
		if _, ok := keep[s.PodName]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Series groups rows by pod without resampling, each sorted by time
func Series(samples []timeseries.Sample, metric timeseries.Metric) map[string][]timeseries.Point {
	series := make(map[string][]timeseries.Point)
	for _, s := range samples {
		series[s.PodName] = append(series[s.PodName], timeseries.NewPoint(s.Timestamp, metric.Value(s)))
	}
	for pod := range series {
		sortPoints(series[pod])
	}
	return series
}

// ResampleMax groups rows by pod and by fixed-width bucket, keeping the
// largest value of each bucket. Buckets are aligned to the Unix epoch, not
// to the first sample, and are labelled with their start time.
func ResampleMax(samples []timeseries.Sample, metric timeseries.Metric, bucket time.Duration) map[string][]timeseries.Point {
	type key struct {
		pod   string
		start int64
	}
	maxima := make(map[key]float64)
	locations := make(map[key]*time.Location)

	for _, s := range samples {
		k := key{pod: s.PodName, start: bucketStart(s.Timestamp, bucket)}
		v := metric.Value(s)
		if cur, ok := maxima[k]; !ok || v > cur {
			maxima[k] = v
		}
		if _, ok := locations[k]; !ok {
			locations[k] = s.Timestamp.Location()
		}
	}

	series := make(map[string][]timeseries.Point)
	for k, v := range maxima {
		t := time.Unix(0, k.start).In(locations[k])
		series[k.pod] = append(series[k.pod], timeseries.NewPoint(t, v))
	}
	for pod := range series {
		sortPoints(series[pod])
	}
	return series
}

// Order ranks series by the sum of their values, largest first, ties by
// name. It returns the order and the per-pod totals.
func Order(series map[string][]timeseries.Point) ([]string, map[string]float64) {
	totals := make(map[string]float64, len(series))
	for pod, points := range series {
		var sum float64
		for _, p := range points {
			sum += p.V
		}
		totals[pod] = sum
	}
	return rank(totals), totals
}

// Stack reindexes every series onto the union of their timestamps, filling
// gaps with zero, and replaces each value with the running sum over the
// series that precede it in order.
func Stack(order []string, series map[string][]timeseries.Point) map[string][]timeseries.Point {
	seen := make(map[int64]time.Time)
	for _, pod := range order {
		for _, p := range series[pod] {
			seen[p.T.UnixNano()] = p.T
		}
	}
	axis := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		axis = append(axis, t)
	}
	sort.Slice(axis, func(i, j int) bool { return axis[i].Before(axis[j]) })

	cumulative := make([]float64, len(axis))
	stacked := make(map[string][]timeseries.Point, len(order))
	for _, pod := range order {
		values := make(map[int64]float64, len(series[pod]))
		for _, p := range series[pod] {
			values[p.T.UnixNano()] += p.V
		}

		points := make([]timeseries.Point, len(axis))
		for i, t := range axis {
			cumulative[i] += values[t.UnixNano()]
			points[i] = timeseries.NewPoint(t, cumulative[i])
		}
		stacked[pod] = points
	}
	return stacked
}

// Namespaces returns the distinct namespaces in samples, sorted
func Namespaces(samples []timeseries.Sample) []string {
	set := make(map[string]struct{})
	for _, s := range samples {
		set[s.Namespace] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for ns := range set {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Title is the chart heading for q
func Title(q Query) string {
	title := fmt.Sprintf("Top %d Pods by %s", q.TopN, q.Metric)
	if q.bucketed() {
		title += fmt.Sprintf(" (%s Max)", bucketLabel(q.Bucket))
	}
	return title
}

func bucketLabel(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d-Hour", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d-Minute", d/time.Minute)
	case d >= time.Second && d%time.Second == 0:
		return fmt.Sprintf("%d-Second", d/time.Second)
	default:
		return d.String()
	}
}

func rank(totals map[string]float64) []string {
	pods := make([]string, 0, len(totals))
	for pod := range totals {
		pods = append(pods, pod)
	}
	sort.Slice(pods, func(i, j int) bool {
		if totals[pods[i]] != totals[pods[j]] {
			return totals[pods[i]] > totals[pods[j]]
		}
		return pods[i] < pods[j]
	})
	return pods
}

func sortPoints(points []timeseries.Point) {
	sort.SliceStable(points, func(i, j int) bool { return points[i].T.Before(points[j].T) })
}

func bucketStart(t time.Time, width time.Duration) int64 {
	n, w := t.UnixNano(), int64(width)
	m := n % w
	if m < 0 {
		m += w
	}
	return n - m
}
