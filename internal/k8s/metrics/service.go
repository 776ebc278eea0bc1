package metrics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	metricsv1beta1 "k8s.io/metrics/pkg/client/clientset/versioned/typed/metrics/v1beta1"
)

// PodUsage is one pod entry of a cluster-wide usage snapshot
type PodUsage struct {
	Name       string           `json:"name"`
	Namespace  string           `json:"namespace"`
	Containers []ContainerUsage `json:"containers"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ContainerUsage carries the raw usage strings reported for one container
type ContainerUsage struct {
	Name   string `json:"name"`
	CPU    string `json:"cpu"`    // e.g. "1234567n", "250m", "2"
	Memory string `json:"memory"` // e.g. "18432Ki", "256Mi"
}

// PodUsageSource lists pod usage from metrics.k8s.io
type PodUsageSource struct {
	logger        *zap.Logger
	metricsClient metricsv1beta1.MetricsV1beta1Interface
	timeout       time.Duration
}

// NewPodUsageSource creates a new source. A zero timeout leaves the request
// bounded only by the caller's context.
func NewPodUsageSource(logger *zap.Logger, metricsClient metricsv1beta1.MetricsV1beta1Interface, timeout time.Duration) *PodUsageSource {
	return &PodUsageSource{
		logger:        logger,
		metricsClient: metricsClient,
		timeout:       timeout,
	}
}

// ListPodUsage fetches usage for every pod in the cluster with a single request
func (s *PodUsageSource) ListPodUsage(ctx context.Context) ([]PodUsage, error) {
	if s.metricsClient == nil {
		return nil, fmt.Errorf("metrics API client is not configured")
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	podMetricsList, err := s.metricsClient.PodMetricses("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list pod metrics: %w", err)
	}

	pods := make([]PodUsage, 0, len(podMetricsList.Items))
	for _, podMetric := range podMetricsList.Items {
		containers := make([]ContainerUsage, 0, len(podMetric.Containers))
		for _, container := range podMetric.Containers {
			containers = append(containers, ContainerUsage{
				Name:   container.Name,
				CPU:    container.Usage.Cpu().String(),
				Memory: container.Usage.Memory().String(),
			})
		}

		pods = append(pods, PodUsage{
			Name:       podMetric.Name,
			Namespace:  podMetric.Namespace,
			Containers: containers,
			Timestamp:  podMetric.Timestamp.Time,
		})
	}

	s.logger.Debug("Listed pod usage", zap.Int("pods", len(pods)))
	return pods, nil
}
