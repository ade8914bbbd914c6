package backend

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/internal/rpc"
	"procodus.dev/health-dashboard/pkg/metrics"
	"procodus.dev/health-dashboard/pkg/vitals"
)

// Renderer produces dashboards and profiles.
type Renderer interface {
	Render(ctx context.Context, viewerID uint, target *uint, tr vitals.TimeRange) (dashboard.Result, error)
	Profile(ctx context.Context, viewerID uint) (dashboard.Profile, error)
}

// AlertNotifier is told about every assembled patient view.
type AlertNotifier interface {
	Notify(view *dashboard.PatientView)
}

// DashboardService implements rpc.DashboardServer.
type DashboardService struct {
	logger   *slog.Logger
	renderer Renderer
	alerts   AlertNotifier
	metrics  *metrics.BackendMetrics
}

// NewDashboardService creates a new DashboardService. alerts and m are optional.
func NewDashboardService(logger *slog.Logger, renderer Renderer, alerts AlertNotifier, m *metrics.BackendMetrics) (*DashboardService, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if renderer == nil {
		return nil, errors.New("renderer cannot be nil")
	}

	return &DashboardService{
		logger:   logger,
		renderer: renderer,
		alerts:   alerts,
		metrics:  m,
	}, nil
}

var _ rpc.DashboardServer = (*DashboardService)(nil)

// GetDashboard renders the viewer's dashboard.
func (s *DashboardService) GetDashboard(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	const method = "GetDashboard"
	defer s.track(method)()

	var req rpc.DashboardRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, s.fail(method, status.Errorf(codes.InvalidArgument, "invalid request: %v", err))
	}
	if req.ViewerID == 0 {
		return nil, s.fail(method, status.Error(codes.InvalidArgument, "viewer_id cannot be empty"))
	}

	s.logger.Debug("GetDashboard called", "viewer_id", req.ViewerID, "patient_id", req.PatientID)

	tr := vitals.TimeRange{Start: req.Start, End: req.End}
	res, err := s.renderer.Render(ctx, req.ViewerID, req.PatientID, tr)
	if err != nil {
		return nil, s.fail(method, s.toStatus(err, req.ViewerID))
	}

	if s.alerts != nil && res.Kind == dashboard.KindPatientView {
		s.alerts.Notify(res.View)
	}

	out, err := rpc.Encode(res)
	if err != nil {
		s.logger.Error("failed to encode dashboard", "viewer_id", req.ViewerID, "error", err)
		return nil, s.fail(method, status.Error(codes.Internal, "failed to encode dashboard"))
	}

	s.succeed(method)
	return out, nil
}

// GetProfile returns the viewer's profile.
func (s *DashboardService) GetProfile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	const method = "GetProfile"
	defer s.track(method)()

	var req rpc.ProfileRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, s.fail(method, status.Errorf(codes.InvalidArgument, "invalid request: %v", err))
	}
	if req.ViewerID == 0 {
		return nil, s.fail(method, status.Error(codes.InvalidArgument, "viewer_id cannot be empty"))
	}

	profile, err := s.renderer.Profile(ctx, req.ViewerID)
	if err != nil {
		return nil, s.fail(method, s.toStatus(err, req.ViewerID))
	}

	out, err := rpc.Encode(profile)
	if err != nil {
		return nil, s.fail(method, status.Error(codes.Internal, "failed to encode profile"))
	}

	s.succeed(method)
	return out, nil
}

func (s *DashboardService) toStatus(err error, viewerID uint) error {
	switch {
	case errors.Is(err, dashboard.ErrViewerNotFound):
		s.logger.Warn("unknown viewer", "viewer_id", viewerID)
		return status.Error(codes.Unauthenticated, "viewer not found")
	case errors.Is(err, dashboard.ErrPatientNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		s.logger.Error("dashboard request failed", "viewer_id", viewerID, "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

// track records in-flight and duration metrics; call the result when done.
func (s *DashboardService) track(method string) func() {
	if s.metrics == nil {
		return func() {}
	}

	s.metrics.GRPCRequestsInFlight.WithLabelValues(method).Inc()
	timer := prometheus.NewTimer(s.metrics.GRPCRequestDuration.WithLabelValues(method))
	return func() {
		timer.ObserveDuration()
		s.metrics.GRPCRequestsInFlight.WithLabelValues(method).Dec()
	}
}

func (s *DashboardService) fail(method string, err error) error {
	if s.metrics != nil {
		s.metrics.GRPCRequestsTotal.WithLabelValues(method, status.Code(err).String()).Inc()
	}
	return err
}

func (s *DashboardService) succeed(method string) {
	if s.metrics != nil {
		s.metrics.GRPCRequestsTotal.WithLabelValues(method, codes.OK.String()).Inc()
	}
}
