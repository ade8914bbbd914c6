package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/pkg/metrics"
	"procodus.dev/health-dashboard/pkg/vitals"
)

// ErrDuplicateGrant is returned when the (patient, grantee) pair already exists.
var ErrDuplicateGrant = errors.New("access grant already exists")

// Store reads and writes users, grants and alerts. The dashboard only uses the
// read methods; writes serve seeding, the alert consumer and tests.
type Store struct {
	logger  *slog.Logger
	db      *gorm.DB
	metrics *metrics.BackendMetrics
}

// NewStore creates a new Store instance.
func NewStore(logger *slog.Logger, db *gorm.DB, m *metrics.BackendMetrics) (*Store, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if db == nil {
		return nil, errors.New("database cannot be nil")
	}

	return &Store{logger: logger, db: db, metrics: m}, nil
}

var _ dashboard.Directory = (*Store)(nil)

// GetUser returns the user with id.
func (s *Store) GetUser(ctx context.Context, id uint) (dashboard.Account, error) {
	var u User
	err := s.observe("get_user", func() error {
		return s.db.WithContext(ctx).First(&u, id).Error
	})
	if err != nil {
		return dashboard.Account{}, notFound(err, id)
	}
	return u.Account(), nil
}

// GetUserWithRole returns the user with id only if it has role.
func (s *Store) GetUserWithRole(ctx context.Context, id uint, role vitals.Role) (dashboard.Account, error) {
	var u User
	err := s.observe("get_user_with_role", func() error {
		return s.db.WithContext(ctx).Where("id = ? AND role = ?", id, role).First(&u).Error
	})
	if err != nil {
		return dashboard.Account{}, notFound(err, id)
	}
	return u.Account(), nil
}

// ListGrantedPatients returns the patients that granted granteeID access,
// by patient id.
func (s *Store) ListGrantedPatients(ctx context.Context, granteeID uint) ([]dashboard.Account, error) {
	var users []User
	err := s.observe("list_granted_patients", func() error {
		return s.db.WithContext(ctx).
			Joins("JOIN access_grants ON access_grants.patient_id = users.id").
			Where("access_grants.grantee_id = ?", granteeID).
			Order("users.id").
			Find(&users).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list granted patients: %w", err)
	}
	return accounts(users), nil
}

// HasGrant reports whether patientID granted granteeID access.
func (s *Store) HasGrant(ctx context.Context, patientID, granteeID uint) (bool, error) {
	var count int64
	err := s.observe("has_grant", func() error {
		return s.db.WithContext(ctx).
			Model(&AccessGrant{}).
			Where("patient_id = ? AND grantee_id = ?", patientID, granteeID).
			Count(&count).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return count > 0, nil
}

// ListUsers returns every user ordered by join date.
func (s *Store) ListUsers(ctx context.Context) ([]dashboard.Account, error) {
	var users []User
	err := s.observe("list_users", func() error {
		return s.db.WithContext(ctx).Order("date_joined, id").Find(&users).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return accounts(users), nil
}

// CreateUser inserts u. A zero DateJoined is set to now.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.DateJoined.IsZero() {
		u.DateJoined = time.Now().UTC()
	}
	if u.IoTPlatform == "" {
		u.IoTPlatform = dashboard.PlatformNone
	}
	return s.observe("create_user", func() error {
		if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
			return fmt.Errorf("failed to create user %q: %w", u.Username, err)
		}
		return nil
	})
}

// CreateGrant grants granteeID access to patientID's feed.
func (s *Store) CreateGrant(ctx context.Context, patientID, granteeID uint) error {
	return s.observe("create_grant", func() error {
		grant := &AccessGrant{PatientID: patientID, GranteeID: granteeID}
		err := s.db.WithContext(ctx).Omit(clause.Associations).Create(grant).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: patient %d, grantee %d", ErrDuplicateGrant, patientID, granteeID)
		}
		if err != nil {
			return fmt.Errorf("failed to create grant: %w", err)
		}
		return nil
	})
}

// SaveAlert inserts an alert. Saving the same (patient, entry) twice is a no-op
// and reports false.
func (s *Store) SaveAlert(ctx context.Context, alert *RiskAlert) (bool, error) {
	var inserted bool
	err := s.observe("save_alert", func() error {
		res := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(alert)
		if res.Error != nil {
			return fmt.Errorf("failed to save alert: %w", res.Error)
		}
		inserted = res.RowsAffected > 0
		return nil
	})
	return inserted, err
}

// ListAlerts returns the newest alerts of a patient, newest first.
func (s *Store) ListAlerts(ctx context.Context, patientID uint, limit int) ([]RiskAlert, error) {
	var alerts []RiskAlert
	err := s.observe("list_alerts", func() error {
		return s.db.WithContext(ctx).
			Where("patient_id = ?", patientID).
			Order("detected_at DESC").
			Limit(limit).
			Find(&alerts).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

func (s *Store) observe(operation string, fn func() error) error {
	if s.metrics == nil {
		return fn()
	}

	timer := prometheus.NewTimer(s.metrics.DBOperationDuration.WithLabelValues(operation))
	err := fn()
	timer.ObserveDuration()

	status := "success"
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		status = "error"
	}
	s.metrics.DBOperationsTotal.WithLabelValues(operation, status).Inc()
	return err
}

func notFound(err error, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("user %d: %w", id, dashboard.ErrUserNotFound)
	}
	return fmt.Errorf("failed to load user %d: %w", id, err)
}

func accounts(users []User) []dashboard.Account {
	out := make([]dashboard.Account, 0, len(users))
	for _, u := range users {
		out = append(out, u.Account())
	}
	return out
}
