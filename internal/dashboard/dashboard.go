// Package dashboard decides what a viewer may see and assembles the dashboard
// payload for them. It only reads users, grants and feeds; it never writes.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"procodus.dev/health-dashboard/pkg/feed"
	"procodus.dev/health-dashboard/pkg/risk"
	"procodus.dev/health-dashboard/pkg/vitals"
)

var (
	// ErrUserNotFound is returned by a Directory for unknown ids.
	ErrUserNotFound = errors.New("user not found")

	// ErrPatientNotFound means the target id is not a patient-role user.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrViewerNotFound means the session refers to a user that no longer exists.
	ErrViewerNotFound = errors.New("viewer not found")
)

// IoT platforms a user can register.
const (
	PlatformNone       = "none"
	PlatformThingSpeak = "thingspeak"
	PlatformBlynk      = "blynk"
)

// Account is the read-only view of a user the dashboard works with.
type Account struct {
	ID          uint
	Username    string
	Email       string
	Phone       string
	Role        vitals.Role
	IoTPlatform string
	ChannelID   string
	ReadKey     string
	DateJoined  time.Time
}

// HasFeed reports whether the account carries usable feed credentials.
func (a Account) HasFeed() bool {
	return a.IoTPlatform == PlatformThingSpeak && a.ChannelID != "" && a.ReadKey != ""
}

// Ref returns the public patient reference, without credentials.
func (a Account) Ref() PatientRef {
	return PatientRef{ID: a.ID, Username: a.Username, Email: a.Email}
}

// Profile returns the self-service view of the account, without credentials.
func (a Account) Profile() Profile {
	return Profile{
		ID:             a.ID,
		Username:       a.Username,
		Email:          a.Email,
		Phone:          a.Phone,
		Role:           a.Role,
		IoTPlatform:    a.IoTPlatform,
		FeedConfigured: a.HasFeed(),
		DateJoined:     a.DateJoined,
	}
}

// Member returns the roster entry for the account.
func (a Account) Member() Member {
	return Member{ID: a.ID, Username: a.Username, Email: a.Email, Role: a.Role, DateJoined: a.DateJoined}
}

// Directory is the user and grant store the dashboard reads from.
type Directory interface {
	GetUser(ctx context.Context, id uint) (Account, error)
	GetUserWithRole(ctx context.Context, id uint, role vitals.Role) (Account, error)
	ListGrantedPatients(ctx context.Context, granteeID uint) ([]Account, error)
	HasGrant(ctx context.Context, patientID, granteeID uint) (bool, error)
	ListUsers(ctx context.Context) ([]Account, error)
}

// Fetcher returns a window of readings for a channel.
type Fetcher interface {
	Fetch(ctx context.Context, channelID, readKey string, tr vitals.TimeRange) feed.Window
}

// Classifier labels a reading.
type Classifier interface {
	Classify(r vitals.Reading) risk.Assessment
}

// Kind tells the presentation layer which view a Result carries.
type Kind int

const (
	KindPatientView Kind = iota
	KindPatientList
	KindRoster
	KindAccessDenied
	KindProfileIncomplete
)

var kindNames = map[Kind]string{
	KindPatientView:       "patient_view",
	KindPatientList:       "patient_list",
	KindRoster:            "roster",
	KindAccessDenied:      "access_denied",
	KindProfileIncomplete: "profile_incomplete",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown result kind %q", text)
}

// PatientRef identifies a patient in payloads.
type PatientRef struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Member is one roster row.
type Member struct {
	ID         uint        `json:"id"`
	Username   string      `json:"username"`
	Email      string      `json:"email,omitempty"`
	Role       vitals.Role `json:"role"`
	DateJoined time.Time   `json:"date_joined"`
}

// PatientView is the assembled payload for one patient.
type PatientView struct {
	Patient PatientRef      `json:"patient"`
	Current *vitals.Reading `json:"current,omitempty"`
	Label   vitals.Label    `json:"label"`
	// Series is the full window, oldest first, for charting.
	Series []vitals.Reading `json:"series"`
	Start  string           `json:"start"`
	End    string           `json:"end"`
	// Self is set when the viewer is looking at their own data.
	Self       bool   `json:"self"`
	FeedStatus string `json:"feed_status"`
}

// Result is the outcome of Render.
type Result struct {
	Kind Kind        `json:"kind"`
	Role vitals.Role `json:"role"`
	// View is set for KindPatientView.
	View *PatientView `json:"view,omitempty"`
	// Patients is set for KindPatientList.
	Patients []PatientRef `json:"patients,omitempty"`
	// Users is set for KindRoster, ordered by join date.
	Users []Member `json:"users,omitempty"`
}

// Profile is what a user sees about their own account.
type Profile struct {
	ID             uint        `json:"id"`
	Username       string      `json:"username"`
	Email          string      `json:"email"`
	Phone          string      `json:"phone,omitempty"`
	Role           vitals.Role `json:"role"`
	IoTPlatform    string      `json:"iot_platform"`
	FeedConfigured bool        `json:"feed_configured"`
	DateJoined     time.Time   `json:"date_joined"`
}
