package frontend

import (
	"context"
	"net/http"

	"github.com/a-h/templ"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/pkg/metrics"
)

// renderPage writes a full HTML page with the given status.
func renderPage(ctx context.Context, w http.ResponseWriter, m *metrics.FrontendMetrics, name string, status int, title string, body templ.Component) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	//nolint:contextcheck // Context is passed to Templ's Render method
	return trackTemplateRender(m, name, func() error {
		return layout(title, body).Render(ctx, w)
	})
}

// renderResult renders a dashboard result as HTML.
func renderResult(ctx context.Context, w http.ResponseWriter, m *metrics.FrontendMetrics, res *dashboard.Result) error {
	switch res.Kind {
	case dashboard.KindPatientView:
		title := res.View.Patient.Username
		if res.View.Self {
			title = "My vitals"
		}
		return renderPage(ctx, w, m, "patient_view", http.StatusOK, title, patientViewPage(res.View))
	case dashboard.KindPatientList:
		return renderPage(ctx, w, m, "patient_list", http.StatusOK, "Patients", patientListPage(res.Role, res.Patients))
	case dashboard.KindRoster:
		return renderPage(ctx, w, m, "roster", http.StatusOK, "Users", rosterPage(res.Users))
	case dashboard.KindAccessDenied:
		return renderPage(ctx, w, m, "message", http.StatusForbidden, "Access denied",
			messagePage("You do not have access to this patient.", redirectFor(res.Kind), "Back to your dashboard"))
	case dashboard.KindProfileIncomplete:
		return renderPage(ctx, w, m, "message", http.StatusConflict, "Profile incomplete",
			messagePage("Complete your profile to use the dashboard.", redirectFor(res.Kind), "Go to your profile"))
	default:
		return renderPage(ctx, w, m, "message", http.StatusInternalServerError, "Error",
			messagePage("Unexpected dashboard result.", "/", "Back"))
	}
}

// trackTemplateRender wraps template rendering with metrics tracking.
func trackTemplateRender(m *metrics.FrontendMetrics, templateName string, renderFunc func() error) error {
	if m == nil {
		return renderFunc()
	}

	timer := prometheus.NewTimer(m.TemplateRenderTime.WithLabelValues(templateName))
	defer timer.ObserveDuration()

	if err := renderFunc(); err != nil {
		m.TemplateRenderErrors.WithLabelValues(templateName).Inc()
		return err
	}

	return nil
}
