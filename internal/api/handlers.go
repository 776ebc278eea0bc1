package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries/aggregator"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries/store"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/version"
)

// errNotFound marks a requested partition that does not exist
var errNotFound = errors.New("not found")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, version.For("server"))
}

func (s *Server) handleListPartitions(w http.ResponseWriter, r *http.Request) {
	partitions, err := store.ListPartitions(s.baseDir)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := PartitionsResponse{Partitions: make([]string, 0, len(partitions))}
	for _, p := range partitions {
		resp.Partitions = append(resp.Partitions, p.Day)
	}
	if len(partitions) > 0 {
		resp.Latest = partitions[len(partitions)-1].Day
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	partitions, err := s.resolvePartitions(r)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	namespaces, err := s.querier.Namespaces(r.Context(), partitions)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, NamespacesResponse{
		Partitions: partitionDays(partitions),
		Namespaces: namespaces,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	partitions, err := s.resolvePartitions(r)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	result, err := s.querier.Query(r.Context(), partitions, q)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, newUsageResponse(result, partitions))
}

// parseQuery reads the usage filters, applying configured defaults and the
// top_n ceiling
func (s *Server) parseQuery(r *http.Request) (aggregator.Query, error) {
	values := r.URL.Query()
	q := aggregator.Query{
		Metric:     timeseries.MetricCPU,
		TopN:       s.config.Query.DefaultTopN,
		Namespaces: splitList(values["namespace"]),
		Search:     strings.TrimSpace(values.Get("search")),
		Bucket:     s.config.Query.DefaultBucket,
		View:       aggregator.ViewStacked,
	}

	if raw := values.Get("metric"); raw != "" {
		metric, err := timeseries.ParseMetric(raw)
		if err != nil {
			return q, fmt.Errorf("%w: %v", aggregator.ErrInvalidArgument, err)
		}
		q.Metric = metric
	}
	if raw := values.Get("top_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("%w: top_n must be an integer", aggregator.ErrInvalidArgument)
		}
		if n > s.config.Query.MaxTopN {
			return q, fmt.Errorf("%w: top_n must be at most %d", aggregator.ErrInvalidArgument, s.config.Query.MaxTopN)
		}
		q.TopN = n
	}
	if raw := values.Get("bucket"); raw != "" {
		bucket, err := time.ParseDuration(raw)
		if err != nil {
			return q, fmt.Errorf("%w: invalid bucket %q", aggregator.ErrInvalidArgument, raw)
		}
		q.Bucket = bucket
	}
	if raw := values.Get("view"); raw != "" {
		view, err := aggregator.ParseView(raw)
		if err != nil {
			return q, err
		}
		q.View = view
	}
	return q, q.Validate()
}

// resolvePartitions maps the partition parameters to files. Without any,
// the most recent partition is used; an empty store yields none.
func (s *Server) resolvePartitions(r *http.Request) ([]timeseries.Partition, error) {
	days := splitList(r.URL.Query()["partition"])
	if len(days) == 0 {
		all, err := store.ListPartitions(s.baseDir)
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return []timeseries.Partition{}, nil
		}
		return all[len(all)-1:], nil
	}

	partitions := make([]timeseries.Partition, 0, len(days))
	for _, day := range days {
		p, err := timeseries.PartitionForDay(s.baseDir, day)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", aggregator.ErrInvalidArgument, err)
		}
		if _, err := os.Stat(p.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("partition %s: %w", day, errNotFound)
			}
			return nil, err
		}
		partitions = append(partitions, p)
	}
	return partitions, nil
}

// splitList accepts both repeated and comma-separated parameters
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, aggregator.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// writeError logs server-side failures in full and returns the message to
// the client
func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err), zap.Int("status", status))
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Status: status})
}
