package application

import (
	"context"

	"github.com/jobrunner/stratum/internal/ports/input"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// HealthService provides health check functionality.
type HealthService struct {
	repo    output.LayerRepository
	spatial output.SpatialStore
	metrics output.MetricsCollector
}

// NewHealthService creates a new health service. spatial may be nil
// when the deployment runs without a vector feature store.
func NewHealthService(repo output.LayerRepository, spatial output.SpatialStore, metrics output.MetricsCollector) *HealthService {
	return &HealthService{
		repo:    repo,
		spatial: spatial,
		metrics: metrics,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(ctx context.Context) bool {
	return true // Liveness of the process itself
}

// IsReady returns true if the service is ready to accept requests.
func (s *HealthService) IsReady(ctx context.Context) bool {
	if err := s.repo.Ping(ctx); err != nil {
		return false
	}
	if s.spatial != nil {
		if err := s.spatial.Ping(ctx); err != nil {
			return false
		}
	}
	return true
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	details := input.HealthDetails{
		Healthy:    s.IsHealthy(ctx),
		Ready:      true,
		Components: make(map[string]string),
	}

	if err := s.repo.Ping(ctx); err != nil {
		details.Ready = false
		details.Components["metadata"] = err.Error()
	} else {
		details.Components["metadata"] = "ok"
	}

	if s.spatial != nil {
		if err := s.spatial.Ping(ctx); err != nil {
			details.Ready = false
			details.Components["spatial"] = err.Error()
		} else {
			details.Components["spatial"] = "ok"
		}
	}

	if count, err := s.repo.Count(ctx); err == nil {
		details.LayersActive = count
		s.metrics.SetLayersActive(count)
	}

	return details
}
