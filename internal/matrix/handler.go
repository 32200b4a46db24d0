package matrix

import (
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/glasswerk-erp/glasswerk-authz/internal/platform/httpx"
	"github.com/glasswerk-erp/glasswerk-authz/internal/shared"
)

// Handler exposes the matrix toggle endpoints consumed by the admin grid.
type Handler struct {
	logger   *slog.Logger
	mutator  *Mutator
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, mutator *Mutator) *Handler {
	return &Handler{logger: logger, mutator: mutator, validate: validator.New()}
}

// MountRoutes registers matrix routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/cell", h.toggleCell)
	r.Post("/row", h.toggleRow)
	r.Post("/column", h.toggleColumn)
}

type cellRequest struct {
	RoleID       int64 `json:"role_id" validate:"required"`
	PermissionID int64 `json:"permission_id" validate:"required"`
}

type rowRequest struct {
	RoleID        int64   `json:"role_id" validate:"required"`
	PermissionIDs []int64 `json:"permission_ids" validate:"required,min=1"`
}

type columnRequest struct {
	PermissionID int64   `json:"permission_id" validate:"required"`
	RoleIDs      []int64 `json:"role_ids" validate:"required,min=1"`
}

func (h *Handler) toggleCell(w http.ResponseWriter, r *http.Request) {
	var req cellRequest
	if !h.decode(w, r, &req) {
		return
	}
	granted, err := h.mutator.ToggleCell(r.Context(), actorID(r), req.RoleID, req.PermissionID)
	if err != nil {
		// The UI keeps the pre-toggle state; report it along with the failure.
		h.logger.Error("matrix toggle cell", slog.Int64("role_id", req.RoleID), slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, map[string]any{
			"granted": granted,
			"error":   "toggle failed",
		})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

func (h *Handler) toggleRow(w http.ResponseWriter, r *http.Request) {
	var req rowRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.mutator.ToggleRow(r.Context(), actorID(r), req.RoleID, req.PermissionIDs)
	if err != nil {
		h.logger.Error("matrix toggle row", slog.Int64("role_id", req.RoleID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) toggleColumn(w http.ResponseWriter, r *http.Request) {
	var req columnRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.mutator.ToggleColumn(r.Context(), actorID(r), req.PermissionID, req.RoleIDs)
	if err != nil {
		h.logger.Error("matrix toggle column", slog.Int64("permission_id", req.PermissionID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func actorID(r *http.Request) int64 {
	if principal, ok := shared.PrincipalFromContext(r.Context()); ok {
		return principal.UserID
	}
	return 0
}
