// Package backend provides the backend service: the user and grant store on
// PostgreSQL, the Dashboard gRPC service and the risk alert pipeline over
// RabbitMQ.
package backend

import (
	"time"

	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/pkg/vitals"
)

// User is a dashboard account. Role is NULL until the profile is completed.
type User struct {
	CreatedAt   time.Time   `gorm:"autoCreateTime"`
	UpdatedAt   time.Time   `gorm:"autoUpdateTime"`
	DateJoined  time.Time   `gorm:"index:idx_users_date_joined;not null"`
	ChannelID   *string     `gorm:"size:64"`
	ReadKey     *string     `gorm:"size:64"`
	Username    string      `gorm:"uniqueIndex;size:150;not null"`
	Email       string      `gorm:"size:254"`
	Phone       string      `gorm:"size:32"`
	IoTPlatform string      `gorm:"size:20;not null;default:none"`
	Role        vitals.Role `gorm:"type:varchar(20);index"`
	ID          uint        `gorm:"primaryKey"`
}

// TableName specifies the table name for User model.
func (User) TableName() string {
	return "users"
}

// Account converts the row to the dashboard view of a user.
func (u User) Account() dashboard.Account {
	a := dashboard.Account{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Phone:       u.Phone,
		Role:        u.Role,
		IoTPlatform: u.IoTPlatform,
		DateJoined:  u.DateJoined,
	}
	if u.ChannelID != nil {
		a.ChannelID = *u.ChannelID
	}
	if u.ReadKey != nil {
		a.ReadKey = *u.ReadKey
	}
	return a
}

// AccessGrant lets Grantee read Patient's feed. A pair is granted at most once.
type AccessGrant struct {
	CreatedAt time.Time `gorm:"autoCreateTime"`
	Patient   User      `gorm:"foreignKey:PatientID;constraint:OnDelete:CASCADE"`
	Grantee   User      `gorm:"foreignKey:GranteeID;constraint:OnDelete:CASCADE"`
	PatientID uint      `gorm:"uniqueIndex:idx_grant_pair;not null"`
	GranteeID uint      `gorm:"uniqueIndex:idx_grant_pair;index;not null"`
	ID        uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for AccessGrant model.
func (AccessGrant) TableName() string {
	return "access_grants"
}

// RiskAlert records a risk label observed on a patient's newest reading.
type RiskAlert struct {
	ReadingAt  time.Time `gorm:"not null"`
	DetectedAt time.Time `gorm:"index:idx_alert_patient_detected;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	Label      string    `gorm:"size:64;not null"`
	Payload    []byte    `gorm:"type:bytea"`
	EntryID    int64     `gorm:"uniqueIndex:idx_alert_patient_entry;not null"`
	PatientID  uint      `gorm:"uniqueIndex:idx_alert_patient_entry;index:idx_alert_patient_detected;not null"`
	ID         uint      `gorm:"primaryKey"`
}

// TableName specifies the table name for RiskAlert model.
func (RiskAlert) TableName() string {
	return "risk_alerts"
}
