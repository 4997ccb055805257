package services

import (
	"cmp"
	"context"
	"errors"
	"time"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/repositories"
)

// BuildInfo identifies the running binary on /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles the readiness probes and build metadata.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
	Clock  func() time.Time
	Build  BuildInfo
}

type systemService struct {
	deps SystemServiceDeps
}

var _ SystemService = (*systemService)(nil)

// NewSystemService requires a health repository. StartedAt defaults to construction time.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.Health == nil {
		return nil, errors.New("system service: health repository is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Build.StartedAt.IsZero() {
		deps.Build.StartedAt = deps.Clock()
	}
	return &systemService{deps: deps}, nil
}

// HealthReport runs the probes and stamps build metadata on fields they leave empty.
func (s *systemService) HealthReport(ctx context.Context) (HealthReport, error) {
	report, err := s.deps.Health.Collect(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	now := s.deps.Clock().UTC()
	build := s.deps.Build

	report.Status = cmp.Or(report.Status, domain.HealthStatusOK)
	report.Version = cmp.Or(report.Version, build.Version)
	report.Environment = cmp.Or(report.Environment, build.Environment)
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.HealthCheck{}
	}
	return report, nil
}
