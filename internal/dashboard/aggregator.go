package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"procodus.dev/health-dashboard/pkg/feed"
	"procodus.dev/health-dashboard/pkg/metrics"
	"procodus.dev/health-dashboard/pkg/vitals"
)

// AggregatorConfig holds the configuration for the Aggregator.
type AggregatorConfig struct {
	Logger     *slog.Logger
	Directory  Directory
	Feed       Fetcher
	Classifier Classifier

	// Metrics is optional.
	Metrics *metrics.BackendMetrics
}

// Aggregator turns a dashboard request into a Result.
type Aggregator struct {
	logger     *slog.Logger
	directory  Directory
	policy     *Policy
	feed       Fetcher
	classifier Classifier
	metrics    *metrics.BackendMetrics
}

// NewAggregator creates a new Aggregator instance.
func NewAggregator(cfg *AggregatorConfig) (*Aggregator, error) {
	if cfg == nil {
		return nil, errors.New("aggregator config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Directory == nil {
		return nil, errors.New("directory cannot be nil")
	}

	if cfg.Feed == nil {
		return nil, errors.New("feed cannot be nil")
	}

	if cfg.Classifier == nil {
		return nil, errors.New("classifier cannot be nil")
	}

	policy, err := NewPolicy(cfg.Directory)
	if err != nil {
		return nil, err
	}

	return &Aggregator{
		logger:     cfg.Logger,
		directory:  cfg.Directory,
		policy:     policy,
		feed:       cfg.Feed,
		classifier: cfg.Classifier,
		metrics:    cfg.Metrics,
	}, nil
}

// Render builds the dashboard of viewerID. target selects a patient; nil means
// the viewer's default view. Denials and incomplete profiles are results, not
// errors.
func (a *Aggregator) Render(ctx context.Context, viewerID uint, target *uint, tr vitals.TimeRange) (Result, error) {
	viewer, err := a.directory.GetUser(ctx, viewerID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Result{}, fmt.Errorf("%w: %d", ErrViewerNotFound, viewerID)
		}
		return Result{}, fmt.Errorf("failed to load viewer: %w", err)
	}

	res, err := a.render(ctx, viewer, target, tr)
	a.observe(viewer.Role, res, err)
	return res, err
}

// Profile returns the viewer's own profile.
func (a *Aggregator) Profile(ctx context.Context, viewerID uint) (Profile, error) {
	viewer, err := a.directory.GetUser(ctx, viewerID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Profile{}, fmt.Errorf("%w: %d", ErrViewerNotFound, viewerID)
		}
		return Profile{}, fmt.Errorf("failed to load viewer: %w", err)
	}
	return viewer.Profile(), nil
}

func (a *Aggregator) render(ctx context.Context, viewer Account, target *uint, tr vitals.TimeRange) (Result, error) {
	if !viewer.Role.IsSet() {
		return Result{Kind: KindProfileIncomplete, Role: viewer.Role}, nil
	}

	if target == nil || (viewer.Role == vitals.RolePatient && *target == viewer.ID) {
		switch viewer.Role {
		case vitals.RolePatient:
			return a.patientView(ctx, viewer, viewer, tr), nil
		case vitals.RoleDoctor, vitals.RoleRelative:
			return a.patientList(ctx, viewer)
		case vitals.RoleAdmin:
			return a.roster(ctx, viewer)
		default:
			return Result{}, fmt.Errorf("%w: %d", vitals.ErrInvalidRole, int(viewer.Role))
		}
	}

	patient, err := a.directory.GetUserWithRole(ctx, *target, vitals.RolePatient)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Result{}, fmt.Errorf("%w: %d", ErrPatientNotFound, *target)
		}
		return Result{}, fmt.Errorf("failed to load patient: %w", err)
	}

	allowed, err := a.policy.CanView(ctx, viewer, patient)
	if err != nil {
		return Result{}, err
	}
	if !allowed {
		a.logger.Info("dashboard access denied",
			"viewer_id", viewer.ID,
			"role", viewer.Role.String(),
			"patient_id", patient.ID,
		)
		return Result{Kind: KindAccessDenied, Role: viewer.Role}, nil
	}

	return a.patientView(ctx, viewer, patient, tr), nil
}

func (a *Aggregator) patientView(ctx context.Context, viewer, patient Account, tr vitals.TimeRange) Result {
	var window feed.Window
	if patient.HasFeed() {
		window = a.feed.Fetch(ctx, patient.ChannelID, patient.ReadKey, tr)
	} else {
		window = feed.Window{Status: feed.StatusUnconfigured}
	}

	view := &PatientView{
		Patient:    patient.Ref(),
		Label:      vitals.LabelNoData,
		Series:     window.Readings,
		Start:      tr.Start,
		End:        tr.End,
		Self:       viewer.ID == patient.ID,
		FeedStatus: window.Status.String(),
	}
	if view.Series == nil {
		view.Series = []vitals.Reading{}
	}

	if current, ok := window.Current(); ok {
		view.Current = &current
		view.Label = a.classifier.Classify(current).Label
	}

	return Result{Kind: KindPatientView, Role: viewer.Role, View: view}
}

func (a *Aggregator) patientList(ctx context.Context, viewer Account) (Result, error) {
	patients, err := a.directory.ListGrantedPatients(ctx, viewer.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list granted patients: %w", err)
	}

	refs := make([]PatientRef, 0, len(patients))
	for _, p := range patients {
		refs = append(refs, p.Ref())
	}
	return Result{Kind: KindPatientList, Role: viewer.Role, Patients: refs}, nil
}

func (a *Aggregator) roster(ctx context.Context, viewer Account) (Result, error) {
	users, err := a.directory.ListUsers(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list users: %w", err)
	}

	members := make([]Member, 0, len(users))
	for _, u := range users {
		members = append(members, u.Member())
	}
	return Result{Kind: KindRoster, Role: viewer.Role, Users: members}, nil
}

func (a *Aggregator) observe(role vitals.Role, res Result, err error) {
	if a.metrics == nil {
		return
	}

	outcome := res.Kind.String()
	switch {
	case errors.Is(err, ErrPatientNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}

	name := role.String()
	if name == "" {
		name = "unset"
	}
	a.metrics.DashboardOutcomes.WithLabelValues(name, outcome).Inc()
}
