package frontend

//go:generate templ generate -f views.templ

import (
	"fmt"
	"strconv"
	"strings"

	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/pkg/vitals"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	dateLayout = "2006-01-02"
)

func labelClass(l vitals.Label) string {
	switch {
	case l.IsRisk():
		return "label label-risk"
	case l == vitals.LabelNormal:
		return "label label-normal"
	default:
		return "label label-unknown"
	}
}

func formatValue(r *vitals.Reading, f vitals.Field) string {
	v, ok := r.Value(f)
	if !ok {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func patientHeading(view *dashboard.PatientView) string {
	if view.Self {
		return "My vitals"
	}
	return view.Patient.Username
}

// patientAction is where the range form submits: the viewer's own dashboard
// or the patient's page.
func patientAction(view *dashboard.PatientView) string {
	if view.Self {
		return "/"
	}
	return patientHref(view.Patient.ID)
}

func showFeedStatus(view *dashboard.PatientView) bool {
	return view.FeedStatus != "" && view.FeedStatus != "ok"
}

func patientHref(id uint) string {
	return fmt.Sprintf("/patient/%d/vitals", id)
}

func idString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func entryString(r *vitals.Reading) string {
	return strconv.FormatInt(r.EntryID, 10)
}

func profileRows(p dashboard.Profile) [][2]string {
	return [][2]string{
		{"Email", p.Email},
		{"Phone", p.Phone},
		{"Role", roleName(p.Role)},
		{"IoT platform", p.IoTPlatform},
		{"Feed configured", strconv.FormatBool(p.FeedConfigured)},
		{"Joined", p.DateJoined.UTC().Format(dateLayout)},
	}
}

func roleName(r vitals.Role) string {
	if !r.IsSet() {
		return "unset"
	}
	return r.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
