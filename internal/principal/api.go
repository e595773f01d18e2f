package principal

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/safecity/platform/internal/authz"
	"github.com/safecity/platform/internal/shared/auth"
	"github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/events"
	"github.com/safecity/platform/internal/shared/logging"
	"github.com/safecity/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the principal module
type Handler struct {
	repo     *Repository
	resolver *Resolver
	policy   *authz.Evaluator
	bus      events.EventBus
	log      *logging.Logger
}

// NewHandler creates a new principal handler
func NewHandler(repo *Repository, resolver *Resolver, policy *authz.Evaluator, bus events.EventBus, log *logging.Logger) *Handler {
	return &Handler{
		repo:     repo,
		resolver: resolver,
		policy:   policy,
		bus:      bus,
		log:      log.WithComponent("principal"),
	}
}

// Routes registers the principal routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListPrincipals)
	r.Post("/", h.CreatePrincipal)

	r.Route("/{principalID}", func(r chi.Router) {
		r.Get("/", h.GetPrincipal)
		r.Delete("/", h.DeletePrincipal)

		r.Put("/role", h.ChangeRole)
		r.Put("/status", h.ChangeStatus)
		r.Put("/company", h.AssignCompany)
	})

	return r
}

// --- Requests ---

type CreatePrincipalRequest struct {
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	Role      string `json:"role"`
	CompanyID string `json:"company_id"`
}

type ChangeRoleRequest struct {
	Role string `json:"role"`
}

type ChangeStatusRequest struct {
	Status string `json:"status"`
}

type AssignCompanyRequest struct {
	CompanyID string `json:"company_id"`
}

// --- Handlers ---

// ListPrincipals lists principals
func (h *Handler) ListPrincipals(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Search: r.URL.Query().Get("search"),
	}

	if v := r.URL.Query().Get("role"); v != "" {
		role, err := authz.ParseRole(v)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Role = &role
	}

	if v := r.URL.Query().Get("status"); v != "" {
		status, err := authz.ParsePrincipalStatus(v)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Status = &status
	}

	if v := r.URL.Query().Get("company_id"); v != "" {
		id, err := types.ParseID(v)
		if err != nil {
			writeError(w, errors.BadRequest("invalid company ID"))
			return
		}
		filter.CompanyID = &id
	}

	principals, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  principals,
		"total": total,
	})
}

// GetPrincipal gets a principal by ID
func (h *Handler) GetPrincipal(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "principalID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid principal ID"))
		return
	}

	p, err := h.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// CreatePrincipal creates a new principal
func (h *Handler) CreatePrincipal(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req CreatePrincipalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	role, err := authz.ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	var companyID types.ID
	if req.CompanyID != "" {
		companyID, err = types.ParseID(req.CompanyID)
		if err != nil {
			writeError(w, errors.BadRequest("invalid company ID"))
			return
		}
	}

	decision := h.policy.Authorize(authz.Input{
		Actor:        actor,
		Action:       authz.ActionCreatePrincipal,
		NewRole:      &role,
		NewCompanyID: companyID,
	})
	if err := decision.Err(); err != nil {
		writeError(w, err)
		return
	}

	p, err := New(req.Email, req.FullName, role, companyID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.Create(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, actor, "principal.created", map[string]any{
		"principal_id": p.ID,
		"email":        p.Email,
		"role":         p.Role,
		"company_id":   p.CompanyID,
	})

	writeJSON(w, http.StatusCreated, p)
}

// ChangeRole changes a principal's role
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	actor, target, err := h.actorAndTarget(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req ChangeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	role, err := authz.ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	targetRef := target.Ref()
	decision := h.policy.Authorize(authz.Input{
		Actor:   actor,
		Action:  authz.ActionChangeRole,
		Target:  &targetRef,
		NewRole: &role,
	})
	if err := decision.Err(); err != nil {
		writeError(w, err)
		return
	}

	previous := target.Role
	target.Role = role
	target.UpdatedAt = time.Now()

	if err := h.repo.Update(r.Context(), target); err != nil {
		writeError(w, err)
		return
	}

	h.resolver.Invalidate(target.ID)

	h.publish(r, actor, "principal.role_changed", map[string]any{
		"principal_id": target.ID,
		"from":         previous,
		"to":           role,
	})

	writeJSON(w, http.StatusOK, target)
}

// ChangeStatus changes a principal's status
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	actor, target, err := h.actorAndTarget(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	status, err := authz.ParsePrincipalStatus(req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	targetRef := target.Ref()
	decision := h.policy.Authorize(authz.Input{
		Actor:     actor,
		Action:    authz.ActionChangeStatus,
		Target:    &targetRef,
		NewStatus: &status,
	})
	if err := decision.Err(); err != nil {
		writeError(w, err)
		return
	}

	previous := target.Status
	target.Status = status
	target.UpdatedAt = time.Now()

	if err := h.repo.Update(r.Context(), target); err != nil {
		writeError(w, err)
		return
	}

	h.resolver.Invalidate(target.ID)

	h.publish(r, actor, "principal.status_changed", map[string]any{
		"principal_id": target.ID,
		"from":         previous,
		"to":           status,
	})

	writeJSON(w, http.StatusOK, target)
}

// AssignCompany moves a principal to another company
func (h *Handler) AssignCompany(w http.ResponseWriter, r *http.Request) {
	actor, target, err := h.actorAndTarget(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req AssignCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	companyID, err := types.ParseID(req.CompanyID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid company ID"))
		return
	}

	targetRef := target.Ref()
	decision := h.policy.Authorize(authz.Input{
		Actor:        actor,
		Action:       authz.ActionAssignCompany,
		Target:       &targetRef,
		NewCompanyID: companyID,
	})
	if err := decision.Err(); err != nil {
		writeError(w, err)
		return
	}

	previous := target.CompanyID
	target.CompanyID = companyID
	target.UpdatedAt = time.Now()

	if err := h.repo.Update(r.Context(), target); err != nil {
		writeError(w, err)
		return
	}

	h.resolver.Invalidate(target.ID)

	h.publish(r, actor, "principal.company_assigned", map[string]any{
		"principal_id": target.ID,
		"from":         previous,
		"to":           companyID,
	})

	writeJSON(w, http.StatusOK, target)
}

// DeletePrincipal removes a principal. The row is kept and suspended so
// the audit trail stays attributable.
func (h *Handler) DeletePrincipal(w http.ResponseWriter, r *http.Request) {
	actor, target, err := h.actorAndTarget(r)
	if err != nil {
		writeError(w, err)
		return
	}

	targetRef := target.Ref()
	decision := h.policy.Authorize(authz.Input{
		Actor:  actor,
		Action: authz.ActionDeletePrincipal,
		Target: &targetRef,
	})
	if err := decision.Err(); err != nil {
		writeError(w, err)
		return
	}

	target.Status = authz.StatusSuspended
	target.UpdatedAt = time.Now()

	if err := h.repo.Update(r.Context(), target); err != nil {
		writeError(w, err)
		return
	}

	h.resolver.Invalidate(target.ID)

	h.publish(r, actor, "principal.deleted", map[string]any{
		"principal_id": target.ID,
	})

	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

// actor resolves the acting principal from the session against current
// records, so suspensions and demotions take effect immediately.
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

func (h *Handler) actorAndTarget(r *http.Request) (authz.PrincipalRef, *Principal, error) {
	actor, err := h.actor(r)
	if err != nil {
		return authz.PrincipalRef{}, nil, err
	}

	id, err := types.ParseID(chi.URLParam(r, "principalID"))
	if err != nil {
		return authz.PrincipalRef{}, nil, errors.BadRequest("invalid principal ID")
	}

	target, err := h.repo.Get(r.Context(), id)
	if err != nil {
		return authz.PrincipalRef{}, nil, err
	}

	return actor, target, nil
}

func (h *Handler) publish(r *http.Request, actor authz.PrincipalRef, eventType string, data map[string]any) {
	if h.bus == nil {
		return
	}

	event := events.NewEvent(eventType, "principal", data).
		WithActor(actor.ID, string(actor.Role), actor.CompanyID)

	if err := h.bus.Publish(r.Context(), event); err != nil {
		h.log.Warnw("failed to publish event", "type", eventType, "error", err)
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
