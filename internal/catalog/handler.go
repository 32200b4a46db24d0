package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/glasswerk-erp/glasswerk-authz/internal/classify"
	"github.com/glasswerk-erp/glasswerk-authz/internal/platform/httpx"
)

// Handler exposes the catalog's admin mutation endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/roles", h.listRoles)
	r.Post("/roles", h.createRole)
	r.Get("/permissions", h.listPermissions)
	r.Post("/permissions", h.createPermission)
	r.Post("/roles/{roleID}/permissions/{permissionID}", h.grant)
	r.Delete("/roles/{roleID}/permissions/{permissionID}", h.revoke)
	r.Post("/users/{userID}/roles/{roleID}", h.assignRole)
	r.Delete("/users/{userID}/roles/{roleID}", h.unassignRole)
	r.Post("/users/{userID}/permissions/{permissionID}", h.grantUser)
	r.Delete("/users/{userID}/permissions/{permissionID}", h.revokeUser)
}

type createRoleRequest struct {
	Name  string `json:"name" validate:"required"`
	Guard string `json:"guard" validate:"required"`
	Label string `json:"label"`
}

type createPermissionRequest struct {
	Name  string `json:"name" validate:"required"`
	Guard string `json:"guard" validate:"required"`
	Label string `json:"label"`
}

type permissionView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Guard    string `json:"guard"`
	Label    string `json:"label"`
	Action   string `json:"action,omitempty"`
	Resource string `json:"resource,omitempty"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	guard := guardParam(r)
	roles, err := h.service.ListRoles(r.Context(), guard)
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Guard, req.Label)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	guard := guardParam(r)
	perms, err := h.service.ListPermissions(r.Context(), guard)
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	views := make([]permissionView, 0, len(perms))
	for _, perm := range perms {
		class := classify.Classify(perm.Name)
		views = append(views, permissionView{
			ID:       perm.ID,
			Name:     perm.Name,
			Guard:    perm.Guard,
			Label:    perm.Label,
			Action:   class.Action,
			Resource: class.Resource,
		})
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), req.Name, req.Guard, req.Label)
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	roleID, permID, ok := edgeParams(w, r, "roleID", "permissionID")
	if !ok {
		return
	}
	if err := h.service.Grant(r.Context(), roleID, permID); err != nil {
		h.fail(w, "grant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"granted": true})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	roleID, permID, ok := edgeParams(w, r, "roleID", "permissionID")
	if !ok {
		return
	}
	if err := h.service.Revoke(r.Context(), roleID, permID); err != nil {
		h.fail(w, "revoke", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"granted": false})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := edgeParams(w, r, "userID", "roleID")
	if !ok {
		return
	}
	if err := h.service.AssignRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"assigned": true})
}

func (h *Handler) unassignRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := edgeParams(w, r, "userID", "roleID")
	if !ok {
		return
	}
	if err := h.service.UnassignRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, "unassign role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"assigned": false})
}

func (h *Handler) grantUser(w http.ResponseWriter, r *http.Request) {
	userID, permID, ok := edgeParams(w, r, "userID", "permissionID")
	if !ok {
		return
	}
	if err := h.service.GrantUser(r.Context(), userID, permID); err != nil {
		h.fail(w, "grant user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"granted": true})
}

func (h *Handler) revokeUser(w http.ResponseWriter, r *http.Request) {
	userID, permID, ok := edgeParams(w, r, "userID", "permissionID")
	if !ok {
		return
	}
	if err := h.service.RevokeUser(r.Context(), userID, permID); err != nil {
		h.fail(w, "revoke user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"granted": false})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrDuplicateKey):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error("catalog "+op, slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func guardParam(r *http.Request) string {
	guard := r.URL.Query().Get("guard")
	if guard == "" {
		guard = "web"
	}
	return guard
}

func edgeParams(w http.ResponseWriter, r *http.Request, first, second string) (int64, int64, bool) {
	a, errA := strconv.ParseInt(chi.URLParam(r, first), 10, 64)
	b, errB := strconv.ParseInt(chi.URLParam(r, second), 10, 64)
	if errA != nil || errB != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, 0, false
	}
	return a, b, true
}
