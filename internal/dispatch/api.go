package dispatch

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/safecity/platform/internal/authz"
	"github.com/safecity/platform/internal/principal"
	"github.com/safecity/platform/internal/shared/auth"
	"github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the dispatch module
type Handler struct {
	tracker  *Tracker
	repo     Repository
	resolver *principal.Resolver
}

// NewHandler creates a new dispatch handler
func NewHandler(tracker *Tracker, repo Repository, resolver *principal.Resolver) *Handler {
	return &Handler{tracker: tracker, repo: repo, resolver: resolver}
}

// Routes registers the dispatch routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.AssignDispatch)
	r.Post("/reassign", h.ReassignDispatch)

	r.Get("/report/{reportID}", h.ListByReport)
	r.Get("/responder/{responderID}", h.ListByResponder)

	r.Route("/{dispatchID}", func(r chi.Router) {
		r.Get("/", h.GetDispatch)
		r.Put("/status", h.UpdateStatus)
	})

	return r
}

// --- Request types ---

type AssignRequest struct {
	ReportID    string `json:"report_id"`
	ResponderID string `json:"responder_id"`
	Priority    string `json:"priority"`
	Notes       string `json:"notes"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// --- Handlers ---

// AssignDispatch assigns a responder to a report
func (h *Handler) AssignDispatch(w http.ResponseWriter, r *http.Request) {
	h.assign(w, r, h.tracker.Assign)
}

// ReassignDispatch replaces the active dispatch with a new responder
func (h *Handler) ReassignDispatch(w http.ResponseWriter, r *http.Request) {
	h.assign(w, r, h.tracker.Reassign)
}

type assignFunc func(ctx context.Context, reportID types.ID, responder authz.PrincipalRef, priority Priority, notes string, actor authz.PrincipalRef) (*Record, error)

func (h *Handler) assign(w http.ResponseWriter, r *http.Request, fn assignFunc) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	reportID, err := types.ParseID(req.ReportID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid report ID"))
		return
	}

	responderID, err := types.ParseID(req.ResponderID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid responder ID"))
		return
	}

	responder, err := h.resolver.Resolve(r.Context(), responderID)
	if err != nil {
		writeError(w, err)
		return
	}

	priority, err := ParsePriority(req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := fn(r.Context(), reportID, responder.Ref(), priority, req.Notes, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// GetDispatch gets a dispatch record by ID
func (h *Handler) GetDispatch(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "dispatchID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid dispatch ID"))
		return
	}

	rec, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// UpdateStatus advances a dispatch through its progression
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	id, err := types.ParseID(chi.URLParam(r, "dispatchID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid dispatch ID"))
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	status, err := ParseStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.tracker.UpdateStatus(r.Context(), id, status, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListByReport lists the dispatch history of a report
func (h *Handler) ListByReport(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "reportID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid report ID"))
		return
	}

	records, err := h.repo.ListByReport(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  records,
		"total": len(records),
	})
}

// ListByResponder lists dispatches assigned to a responder
func (h *Handler) ListByResponder(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "responderID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid responder ID"))
		return
	}

	records, err := h.repo.ListByResponder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  records,
		"total": len(records),
	})
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
