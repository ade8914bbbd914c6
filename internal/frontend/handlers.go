// Package frontend serves the role-based health dashboard over HTTP.
package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/internal/rpc"
)

// resultEnvelope is the JSON form of a dashboard result.
type resultEnvelope struct {
	*dashboard.Result
	Redirect string `json:"redirect,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func redirectFor(kind dashboard.Kind) string {
	switch kind {
	case dashboard.KindAccessDenied:
		return "/"
	case dashboard.KindProfileIncomplete:
		return "/profile"
	default:
		return ""
	}
}

func statusFor(kind dashboard.Kind) int {
	switch kind {
	case dashboard.KindAccessDenied:
		return http.StatusForbidden
	case dashboard.KindProfileIncomplete:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

func codeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

// httpStatus maps a backend error to the response status.
func httpStatus(err error) int {
	switch codeOf(err) {
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleIndex serves the viewer's own dashboard.
func (rt *Router) handleIndex(w http.ResponseWriter, r *http.Request) {
	res, err := rt.dashboard(r, nil)
	if err != nil {
		rt.backendError(w, r, err)
		return
	}
	rt.render(w, r, res)
}

// handlePatientVitals serves one patient's vitals page.
func (rt *Router) handlePatientVitals(w http.ResponseWriter, r *http.Request) {
	target, ok := patientID(r)
	if !ok {
		rt.writeError(w, r, http.StatusNotFound, "patient not found")
		return
	}

	res, err := rt.dashboard(r, &target)
	if err != nil {
		rt.backendError(w, r, err)
		return
	}
	rt.render(w, r, res)
}

// handleProfile serves the viewer's profile page.
func (rt *Router) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := rt.profile(r)
	if err != nil {
		rt.backendError(w, r, err)
		return
	}

	if err := renderPage(r.Context(), w, rt.metrics, "profile", http.StatusOK, "Profile", profilePage(*profile)); err != nil {
		rt.logger.Error("failed to render profile", "request_id", requestIDFrom(r.Context()), "error", err)
	}
}

// handleAPIDashboard returns the viewer's own dashboard as JSON.
func (rt *Router) handleAPIDashboard(w http.ResponseWriter, r *http.Request) {
	res, err := rt.dashboard(r, nil)
	if err != nil {
		rt.backendError(w, r, err)
		return
	}
	rt.writeJSON(w, r, statusFor(res.Kind), resultEnvelope{Result: res, Redirect: redirectFor(res.Kind)})
}

// handleAPIPatientVitals returns one patient's dashboard as JSON.
func (rt *Router) handleAPIPatientVitals(w http.ResponseWriter, r *http.Request) {
	target, ok := patientID(r)
	if !ok {
		rt.writeError(w, r, http.StatusNotFound, "patient not found")
		return
	}

	res, err := rt.dashboard(r, &target)
	if err != nil {
		rt.backendError(w, r, err)
		return
	}
	rt.writeJSON(w, r, statusFor(res.Kind), resultEnvelope{Result: res, Redirect: redirectFor(res.Kind)})
}

// handleAPIProfile returns the viewer's profile as JSON.
func (rt *Router) handleAPIProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := rt.profile(r)
	if err != nil {
		rt.backendError(w, r, err)
		return
	}
	rt.writeJSON(w, r, http.StatusOK, profile)
}

// handleHealth serves health check endpoint.
func (rt *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		rt.logger.Error("failed to write health response", "error", err)
	}
}

func patientID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func (rt *Router) backendContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(r.Context(), rt.timeout)
	if id := requestIDFrom(ctx); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, strings.ToLower(RequestIDHeader), id)
	}
	return ctx, cancel
}

func (rt *Router) dashboard(r *http.Request, target *uint) (*dashboard.Result, error) {
	ctx, cancel := rt.backendContext(r)
	defer cancel()

	q := r.URL.Query()
	req := &rpc.DashboardRequest{
		ViewerID:  viewerFrom(r.Context()),
		PatientID: target,
		Start:     q.Get("start"),
		End:       q.Get("end"),
	}

	done := rt.observeBackend("GetDashboard")
	res, err := rt.backend.GetDashboard(ctx, req)
	done(err)
	return res, err
}

func (rt *Router) profile(r *http.Request) (*dashboard.Profile, error) {
	ctx, cancel := rt.backendContext(r)
	defer cancel()

	done := rt.observeBackend("GetProfile")
	profile, err := rt.backend.GetProfile(ctx, &rpc.ProfileRequest{ViewerID: viewerFrom(r.Context())})
	done(err)
	return profile, err
}

func (rt *Router) render(w http.ResponseWriter, r *http.Request, res *dashboard.Result) {
	if res.Kind == dashboard.KindPatientView && res.View == nil {
		rt.logger.Error("patient view without payload", "request_id", requestIDFrom(r.Context()))
		rt.writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	if err := renderResult(r.Context(), w, rt.metrics, res); err != nil {
		rt.logger.Error("failed to render dashboard",
			"request_id", requestIDFrom(r.Context()),
			"kind", res.Kind.String(),
			"error", err,
		)
	}
}

func (rt *Router) backendError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		rt.logger.Error("backend request failed",
			"request_id", requestIDFrom(r.Context()),
			"viewer_id", viewerFrom(r.Context()),
			"error", err,
		)
	}
	rt.writeError(w, r, code, http.StatusText(code))
}

// writeError answers JSON under /api/ and a plain page elsewhere.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		rt.writeJSON(w, r, code, errorResponse{Error: strings.ToLower(msg)})
		return
	}

	if err := renderPage(r.Context(), w, rt.metrics, "message", code, http.StatusText(code), messagePage(msg, "/", "Back to your dashboard")); err != nil {
		rt.logger.Error("failed to render error page", "request_id", requestIDFrom(r.Context()), "error", err)
	}
}

func (rt *Router) writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.logger.Error("failed to write JSON response", "request_id", requestIDFrom(r.Context()), "error", err)
	}
}
