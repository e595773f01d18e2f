package company

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/safecity/platform/internal/authz"
	"github.com/safecity/platform/internal/principal"
	"github.com/safecity/platform/internal/shared/auth"
	"github.com/safecity/platform/internal/shared/errors"
	"github.com/safecity/platform/internal/shared/events"
	"github.com/safecity/platform/internal/shared/logging"
	"github.com/safecity/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the company module
type Handler struct {
	repo       *Repository
	principals *principal.Repository
	resolver   *principal.Resolver
	policy     *authz.Evaluator
	bus        events.EventBus
	log        *logging.Logger
}

// NewHandler creates a new company handler
func NewHandler(repo *Repository, principals *principal.Repository, resolver *principal.Resolver, policy *authz.Evaluator, bus events.EventBus, log *logging.Logger) *Handler {
	return &Handler{
		repo:       repo,
		principals: principals,
		resolver:   resolver,
		policy:     policy,
		bus:        bus,
		log:        log.WithComponent("company"),
	}
}

// Routes registers the company routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListCompanies)
	r.Post("/", h.CreateCompany)

	r.Route("/{companyID}", func(r chi.Router) {
		r.Get("/", h.GetCompany)
		r.Put("/", h.UpdateCompany)
		r.Delete("/", h.DeleteCompany)
	})

	return r
}

// --- Requests ---

type CreateCompanyRequest struct {
	Name               string            `json:"name"`
	RegistrationNumber string            `json:"registration_number"`
	Contact            types.ContactInfo `json:"contact"`
}

type UpdateCompanyRequest struct {
	Name    *string            `json:"name"`
	Contact *types.ContactInfo `json:"contact"`
	Status  *string            `json:"status"`
}

// --- Handlers ---

// ListCompanies lists companies
func (h *Handler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Search: r.URL.Query().Get("search"),
	}

	if s := r.URL.Query().Get("status"); s != "" {
		status, err := ParseCompanyStatus(s)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Status = &status
	}

	companies, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  companies,
		"total": total,
	})
}

// GetCompany gets a company by ID
func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "companyID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid company ID"))
		return
	}

	c, err := h.repo.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// CreateCompany registers a new company
func (h *Handler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req CreateCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	c, err := New(req.Name, req.RegistrationNumber, req.Contact)
	if err != nil {
		writeError(w, err)
		return
	}

	// The new company is never the actor's own, so only a global
	// administrator clears this check.
	decision := h.policy.Authorize(authz.Input{
		Actor:        actor,
		Action:       authz.ActionManageCompany,
		NewCompanyID: c.ID,
	})
	if err := decision.Err(); err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.Create(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, actor, "company.created", map[string]any{
		"company_id":          c.ID,
		"name":                c.Name,
		"registration_number": c.RegistrationNumber,
	})

	writeJSON(w, http.StatusCreated, c)
}

// UpdateCompany updates a company
func (h *Handler) UpdateCompany(w http.ResponseWriter, r *http.Request) {
	actor, c, err := h.actorAndCompany(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	decision := h.policy.Authorize(authz.Input{
		Actor:        actor,
		Action:       authz.ActionManageCompany,
		NewCompanyID: c.ID,
	})
	if err := decision.Err(); err != nil {
		writeError(w, err)
		return
	}

	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Contact != nil {
		c.Contact = *req.Contact
	}
	if req.Status != nil {
		status, err := ParseCompanyStatus(*req.Status)
		if err != nil {
			writeError(w, err)
			return
		}
		c.Status = status
	}
	c.UpdatedAt = time.Now()

	if err := h.repo.Update(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, actor, "company.updated", map[string]any{
		"company_id": c.ID,
		"status":     c.Status,
	})

	writeJSON(w, http.StatusOK, c)
}

// DeleteCompany removes a company that has no principals left
func (h *Handler) DeleteCompany(w http.ResponseWriter, r *http.Request) {
	actor, c, err := h.actorAndCompany(r)
	if err != nil {
		writeError(w, err)
		return
	}

	decision := h.policy.Authorize(authz.Input{
		Actor:        actor,
		Action:       authz.ActionManageCompany,
		NewCompanyID: c.ID,
	})
	if err := decision.Err(); err != nil {
		writeError(w, err)
		return
	}

	count, err := h.principals.CountByCompany(r.Context(), c.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if count > 0 {
		writeError(w, errors.Conflict("company still has principals assigned"))
		return
	}

	if err := h.repo.Delete(r.Context(), c.ID); err != nil {
		writeError(w, err)
		return
	}

	h.publish(r, actor, "company.deleted", map[string]any{
		"company_id": c.ID,
	})

	w.WriteHeader(http.StatusNoContent)
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

func (h *Handler) actorAndCompany(r *http.Request) (authz.PrincipalRef, *Company, error) {
	actor, err := h.actor(r)
	if err != nil {
		return authz.PrincipalRef{}, nil, err
	}

	id, err := types.ParseID(chi.URLParam(r, "companyID"))
	if err != nil {
		return authz.PrincipalRef{}, nil, errors.BadRequest("invalid company ID")
	}

	c, err := h.repo.Get(r.Context(), id)
	if err != nil {
		return authz.PrincipalRef{}, nil, err
	}

	return actor, c, nil
}

func (h *Handler) publish(r *http.Request, actor authz.PrincipalRef, eventType string, data map[string]any) {
	if h.bus == nil {
		return
	}

	event := events.NewEvent(eventType, "company", data).
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
