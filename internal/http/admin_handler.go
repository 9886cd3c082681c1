package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"gatehouse/internal/admin"
	"gatehouse/internal/identity"
	"gatehouse/internal/roster"
)

const maxUserPageSize = 100

// maxCSVBodyBytes caps roster uploads well above MaxImportRows worth of
// plausible rows.
const maxCSVBodyBytes = 5 << 20

// AdminHandler exposes the management CRUD endpoints.
type AdminHandler struct {
	svc      *admin.Service
	importer *roster.CSVImporter
	exporter *roster.CSVExporter
	logger   *slog.Logger
}

// NewAdminHandler creates a handler.
func NewAdminHandler(svc *admin.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		svc:      svc,
		importer: roster.NewCSVImporter(svc),
		exporter: roster.NewCSVExporter(),
		logger:   logger,
	}
}

func actorFromRequest(r *http.Request) admin.Actor {
	info := AuthFromContext(r.Context())
	if info == nil {
		return admin.Actor{}
	}
	return admin.Actor{ID: info.User.ID, Role: info.User.RoleName}
}

// ListUsers handles GET /api/admin/users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	opts := identity.ListOptions{Limit: 50}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > maxUserPageSize {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = value
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = value
	}

	users, err := h.svc.ListUsers(r.Context(), actorFromRequest(r), opts)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// GetUser handles GET /api/admin/users/{id}.
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	user, err := h.svc.GetUser(r.Context(), actorFromRequest(r), id)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// CreateUser handles POST /api/admin/users.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Role      string `json:"role"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	user, err := h.svc.CreateUser(r.Context(), actorFromRequest(r), admin.CreateUserInput{
		Email:     payload.Email,
		Password:  payload.Password,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		RoleName:  payload.Role,
	})
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// UpdateUser handles PUT /api/admin/users/{id}.
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var payload struct {
		Email     *string `json:"email"`
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Role      *string `json:"role"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	user, err := h.svc.UpdateUser(r.Context(), actorFromRequest(r), id, admin.UpdateUserInput{
		Email:     payload.Email,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		RoleName:  payload.Role,
	})
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /api/admin/users/{id}.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteUser(r.Context(), actorFromRequest(r), id); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportUsers handles GET /api/admin/users/export. The download is a CSV
// compatible with the import endpoint.
func (h *AdminHandler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)

	var all []identity.User
	for offset := 0; ; offset += maxUserPageSize {
		page, err := h.svc.ListUsers(r.Context(), actor, identity.ListOptions{Limit: maxUserPageSize, Offset: offset})
		if err != nil {
			handleServiceError(w, err, h.logger)
			return
		}
		all = append(all, page...)
		if len(page) < maxUserPageSize {
			break
		}
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="accounts.csv"`)
	if err := h.exporter.Export(w, all); err != nil {
		h.logger.Error("exporting accounts", "error", err)
	}
}

// ImportUsers handles POST /api/admin/users/import. The body is a raw CSV
// upload; the response summarizes created, skipped, and failed rows.
func (h *AdminHandler) ImportUsers(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxCSVBodyBytes)
	defer body.Close()

	summary, err := h.importer.Import(r.Context(), body, actorFromRequest(r))
	if err != nil {
		if errors.Is(err, roster.ErrInvalidCSV) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListRoles handles GET /api/admin/roles.
func (h *AdminHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.ListRoles(r.Context(), actorFromRequest(r))
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// GetRole handles GET /api/admin/roles/{id}.
func (h *AdminHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	role, err := h.svc.GetRole(r.Context(), actorFromRequest(r), id)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// CreateRole handles POST /api/admin/roles.
func (h *AdminHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	role, err := h.svc.CreateRole(r.Context(), actorFromRequest(r), payload.Name, payload.Description)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

// UpdateRole handles PUT /api/admin/roles/{id}.
func (h *AdminHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var payload struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	role, err := h.svc.UpdateRole(r.Context(), actorFromRequest(r), id, payload.Name, payload.Description)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// DeleteRole handles DELETE /api/admin/roles/{id}.
func (h *AdminHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteRole(r.Context(), actorFromRequest(r), id); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSettings handles GET /api/admin/settings.
func (h *AdminHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.ListSettings(r.Context(), actorFromRequest(r))
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

// GetSetting handles GET /api/admin/settings/{key}.
func (h *AdminHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	key := urlParam(r, "key")
	setting, err := h.svc.GetSetting(r.Context(), actorFromRequest(r), key)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

// PutSetting handles PUT /api/admin/settings/{key}.
func (h *AdminHandler) PutSetting(w http.ResponseWriter, r *http.Request) {
	key := urlParam(r, "key")

	var payload struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	setting, err := h.svc.PutSetting(r.Context(), actorFromRequest(r), key, payload.Value)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

// DeleteSetting handles DELETE /api/admin/settings/{key}.
func (h *AdminHandler) DeleteSetting(w http.ResponseWriter, r *http.Request) {
	key := urlParam(r, "key")

	if err := h.svc.DeleteSetting(r.Context(), actorFromRequest(r), key); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
