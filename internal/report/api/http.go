package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/safecity/platform/internal/authz"
	"github.com/safecity/platform/internal/principal"
	"github.com/safecity/platform/internal/report/domain"
	"github.com/safecity/platform/internal/shared/auth"
	"github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/events"
	"github.com/safecity/platform/internal/shared/logging"
	"github.com/safecity/platform/internal/shared/metrics"
	"github.com/safecity/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the report module
type Handler struct {
	repo     domain.Repository
	resolver *principal.Resolver
	policy   *authz.Evaluator
	bus      events.EventBus
	log      *logging.Logger
}

// NewHandler creates a new report handler
func NewHandler(repo domain.Repository, resolver *principal.Resolver, policy *authz.Evaluator, bus events.EventBus, log *logging.Logger) *Handler {
	return &Handler{
		repo:     repo,
		resolver: resolver,
		policy:   policy,
		bus:      bus,
		log:      log.WithComponent("report"),
	}
}

// Routes registers the report routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListReports)
	r.Post("/", h.CreateReport)

	r.Get("/number/{reportNumber}", h.GetReportByNumber)

	r.Route("/{reportID}", func(r chi.Router) {
		r.Get("/", h.GetReport)
		r.Get("/events", h.GetEvents)

		r.Post("/transition", h.TransitionReport)
		r.Put("/severity", h.ChangeSeverity)
	})

	return r
}

// --- Request types ---

type CreateReportRequest struct {
	Kind        string         `json:"kind"`
	Severity    string         `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Location    types.Location `json:"location"`
}

type TransitionRequest struct {
	Status string `json:"status"`
}

type ChangeSeverityRequest struct {
	Severity string `json:"severity"`
}

// --- Handlers ---

// ListReports lists reports visible to the caller
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	filter := domain.ListFilter{
		Search: r.URL.Query().Get("search"),
	}

	if v := r.URL.Query().Get("kind"); v != "" {
		kind, err := domain.ParseReportKind(v)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Kind = &kind
	}

	if v := r.URL.Query().Get("status"); v != "" {
		status, err := domain.ParseReportStatus(v)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Status = &status
	}

	if v := r.URL.Query().Get("severity"); v != "" {
		severity, err := domain.ParseSeverity(v)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Severity = &severity
	}

	var reports []domain.Report
	var total int

	switch {
	case actor.Role == authz.RoleGlobalAdmin:
		reports, total, err = h.repo.List(r.Context(), filter)
	case authz.SameOrHigher(actor.Role, authz.RoleController):
		reports, total, err = h.repo.FindByCompany(r.Context(), actor.CompanyID, filter)
	default:
		// Plain users only see what they filed themselves.
		reports, total, err = h.repo.FindByReporter(r.Context(), actor.ID, filter)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  reports,
		"total": total,
	})
}

// GetReport gets a report by ID
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rpt, err := h.findReport(r)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rpt)
}

// GetReportByNumber gets a report by its human-readable number
func (h *Handler) GetReportByNumber(w http.ResponseWriter, r *http.Request) {
	rpt, err := h.repo.FindByReportNumber(r.Context(), chi.URLParam(r, "reportNumber"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rpt)
}

// GetEvents returns the report timeline
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	rpt, err := h.findReport(r)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"report_id": rpt.ID,
		"events":    rpt.Timeline,
	})
}

// CreateReport files a new report
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	decision := h.policy.Authorize(authz.Input{
		Actor:  actor,
		Action: authz.ActionCreateReport,
	})
	if err := decision.Err(); err != nil {
		writeError(w, err)
		return
	}

	var req CreateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	rpt, err := domain.NewReport(
		domain.ReportKind(req.Kind),
		domain.Severity(req.Severity),
		req.Title,
		req.Description,
		req.Location,
		actor.ID,
	)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.Save(r.Context(), rpt); err != nil {
		writeError(w, err)
		return
	}

	metrics.RecordReportCreated(string(rpt.Kind), string(rpt.Severity))
	h.publishDomainEvents(r, actor, rpt)

	writeJSON(w, http.StatusCreated, rpt)
}

// TransitionReport moves a report through its lifecycle
func (h *Handler) TransitionReport(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rpt, err := h.findReport(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	target, err := domain.ParseReportStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	ref := h.reportRef(r.Context(), rpt)
	decision := h.policy.Authorize(authz.Input{
		Actor:  actor,
		Action: authz.ActionTransitionReport,
		Report: &ref,
	})
	if err := decision.Err(); err != nil {
		writeError(w, err)
		return
	}

	expectedStatus := rpt.Status
	expectedUpdatedAt := rpt.UpdatedAt

	if err := rpt.Transition(target, actor.ID); err != nil {
		writeError(w, err)
		return
	}

	// Re-requesting the current status is acknowledged without a write.
	if rpt.Status == expectedStatus {
		writeJSON(w, http.StatusOK, rpt)
		return
	}

	if err := h.repo.UpdateIfUnchanged(r.Context(), rpt, expectedStatus, expectedUpdatedAt); err != nil {
		writeError(w, err)
		return
	}

	metrics.RecordReportStatusChange(string(expectedStatus), string(rpt.Status))
	h.publishDomainEvents(r, actor, rpt)

	writeJSON(w, http.StatusOK, rpt)
}

// ChangeSeverity adjusts the severity of an open report
func (h *Handler) ChangeSeverity(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rpt, err := h.findReport(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req ChangeSeverityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	severity, err := domain.ParseSeverity(req.Severity)
	if err != nil {
		writeError(w, err)
		return
	}

	ref := h.reportRef(r.Context(), rpt)
	decision := h.policy.Authorize(authz.Input{
		Actor:  actor,
		Action: authz.ActionTransitionReport,
		Report: &ref,
	})
	if err := decision.Err(); err != nil {
		writeError(w, err)
		return
	}

	if rpt.IsTerminal() {
		writeError(w, errors.ReportClosed(rpt.ID.String()))
		return
	}

	rpt.Severity = severity

	if err := h.repo.Update(r.Context(), rpt); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rpt)
}

// --- Helpers ---

func (h *Handler) actor(r *http.Request) (authz.PrincipalRef, error) {
	user := auth.GetUser(r.Context())
	if user == nil {
		return authz.PrincipalRef{}, errors.Unauthorized("authentication required")
	}

	p, err := h.resolver.Resolve(r.Context(), user.ID)
	if err != nil {
		return authz.PrincipalRef{}, errors.Unauthorized("unknown principal")
	}

	return p.Ref(), nil
}

// reportRef derives the report's effective company from the assigned
// responder's live record. Unassigned reports keep the stored company,
// which is zero for community-wide visibility.
func (h *Handler) reportRef(ctx context.Context, rpt *domain.Report) authz.ReportRef {
	ref := authz.ReportRef{ID: rpt.ID, CompanyID: rpt.CompanyID}
	if rpt.AssignedResponderID == "" {
		return ref
	}

	responder, err := h.resolver.Resolve(ctx, rpt.AssignedResponderID)
	if err != nil {
		return ref
	}

	rref := responder.Ref()
	ref.CompanyID = authz.ReportCompany(&rref)
	return ref
}

func (h *Handler) findReport(r *http.Request) (*domain.Report, error) {
	id, err := types.ParseID(chi.URLParam(r, "reportID"))
	if err != nil {
		return nil, errors.BadRequest("invalid report ID")
	}

	return h.repo.FindByID(r.Context(), id)
}

func (h *Handler) publishDomainEvents(r *http.Request, actor authz.PrincipalRef, rpt *domain.Report) {
	if h.bus == nil {
		return
	}

	for _, de := range rpt.GetDomainEvents() {
		event := events.NewEvent("report."+de.Type, "report", de).
			WithActor(actor.ID, string(actor.Role), actor.CompanyID)

		if err := h.bus.Publish(r.Context(), event); err != nil {
			h.log.Warnw("failed to publish event", "type", de.Type, "error", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
