package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"companion/internal/clock"
	"companion/internal/types"
)

// errCodeInvalidClientID is local to the routing layer: the {id} URL segment
// did not parse as a positive integer.
const errCodeInvalidClientID types.ErrorCode = "validation_invalid_client_id"

// ReminderStore defines the data access methods the reminder handler needs.
// Satisfied by db.ReminderRepository.
type ReminderStore interface {
	Upsert(ctx context.Context, rem *types.Reminder) error
	ListByClient(ctx context.Context, clientID int64) ([]*types.Reminder, error)
}

// ClientChecker verifies that a client exists before touching its schedule.
// Satisfied by db.ClientRepository.
type ClientChecker interface {
	Exists(ctx context.Context, clientID int64) (bool, error)
}

// UpsertReminderRequest is the request body for
// PUT /v1/clients/{id}/reminders/{type}.
//
// TimezoneOffsetMinutes follows the browser convention (positive west of
// UTC). The accepted range covers every real-world zone with margin.
type UpsertReminderRequest struct {
	LocalTime             string `json:"local_hm" validate:"required"`
	TimezoneOffsetMinutes *int   `json:"timezone_offset_minutes" validate:"required,gte=-840,lte=840"`
	Language              string `json:"language" validate:"omitempty,oneof=en he ru ar"`
	IsActive              *bool  `json:"is_active"`
}

// ReminderResponse is the reminder representation returned to clients. Times
// are rendered as "HH:MM"; the stored UTC time is authoritative for dispatch
// and the local time echoes what the client entered.
type ReminderResponse struct {
	ID                    int64              `json:"id"`
	ClientID              int64              `json:"client_id"`
	Type                  types.ReminderType `json:"type"`
	ReminderTimeUTC       string             `json:"reminder_time_utc"`
	LocalReminderTime     *string            `json:"local_reminder_time,omitempty"`
	TimezoneOffsetMinutes int                `json:"timezone_offset_minutes"`
	Language              types.Language     `json:"language"`
	IsActive              bool               `json:"is_active"`
	LastSent              *time.Time         `json:"last_sent,omitempty"`
}

// ReminderHandler serves the reminder schedule contract.
type ReminderHandler struct {
	reminders ReminderStore
	clients   ClientChecker
	validator *Validator
	logger    *slog.Logger
}

// NewReminderHandler creates a ReminderHandler with the provided dependencies.
func NewReminderHandler(reminders ReminderStore, clients ClientChecker, v *Validator, logger *slog.Logger) *ReminderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderHandler{
		reminders: reminders,
		clients:   clients,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes mounts reminder routes on the provided chi.Router.
func (h *ReminderHandler) RegisterRoutes(r chi.Router) {
	r.Route("/clients/{id}/reminders", func(r chi.Router) {
		r.Get("/", h.List)
		r.Put("/{type}", h.Upsert)
	})
}

// Upsert handles PUT /v1/clients/{id}/reminders/{type}.
//
// The client supplies its local HH:MM and current browser offset; the handler
// computes the UTC dispatch time and persists both forms. Re-submitting after
// an offset change (DST) recomputes UTC from the same local time.
func (h *ReminderHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	clientID, err := parseClientID(r)
	if err != nil {
		Error(w, r, err)
		return
	}

	remType := types.ReminderType(chi.URLParam(r, "type"))
	if !remType.Valid() {
		Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidType,
			"unknown reminder type: "+string(remType),
			nil,
		))
		return
	}

	var req UpsertReminderRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		Error(w, r, err)
		return
	}

	local, err := clock.ParseHHMM(req.LocalTime)
	if err != nil {
		Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidTime,
			err.Error(),
			err,
		))
		return
	}

	lang := types.Language(req.Language)
	if req.Language == "" {
		lang = types.DefaultLanguage
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	exists, err := h.clients.Exists(r.Context(), clientID)
	if err != nil {
		Error(w, r, err)
		return
	}
	if !exists {
		Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundClient,
			"client not found",
			nil,
		))
		return
	}

	offset := *req.TimezoneOffsetMinutes
	localMinutes := int(local)
	rem := &types.Reminder{
		ClientID:              clientID,
		Type:                  remType,
		ReminderTimeUTC:       int(clock.ToUTC(local, offset)),
		LocalReminderTime:     &localMinutes,
		TimezoneOffsetMinutes: offset,
		Language:              lang,
		IsActive:              isActive,
	}

	if err := h.reminders.Upsert(r.Context(), rem); err != nil {
		Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "reminder upserted",
		"client_id", clientID,
		"type", remType,
		"utc_time", clock.MinuteOfDay(rem.ReminderTimeUTC).String(),
		"offset_minutes", offset,
	)

	JSON(w, r, http.StatusOK, APIResponse{Data: toReminderResponse(rem)})
}

// List handles GET /v1/clients/{id}/reminders.
func (h *ReminderHandler) List(w http.ResponseWriter, r *http.Request) {
	clientID, err := parseClientID(r)
	if err != nil {
		Error(w, r, err)
		return
	}

	exists, err := h.clients.Exists(r.Context(), clientID)
	if err != nil {
		Error(w, r, err)
		return
	}
	if !exists {
		Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundClient,
			"client not found",
			nil,
		))
		return
	}

	reminders, err := h.reminders.ListByClient(r.Context(), clientID)
	if err != nil {
		Error(w, r, err)
		return
	}

	out := make([]ReminderResponse, len(reminders))
	for i, rem := range reminders {
		out[i] = toReminderResponse(rem)
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: out})
}

// parseClientID extracts and validates the {id} URL segment.
func parseClientID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewAppError(
			errCodeInvalidClientID,
			"client id must be a positive integer",
			err,
		)
	}
	return id, nil
}

// toReminderResponse renders a stored reminder for the API. Legacy rows
// without a local time omit the field rather than fabricating one.
func toReminderResponse(rem *types.Reminder) ReminderResponse {
	resp := ReminderResponse{
		ID:                    rem.ID,
		ClientID:              rem.ClientID,
		Type:                  rem.Type,
		ReminderTimeUTC:       clock.MinuteOfDay(rem.ReminderTimeUTC).String(),
		TimezoneOffsetMinutes: rem.TimezoneOffsetMinutes,
		Language:              rem.Language,
		IsActive:              rem.IsActive,
		LastSent:              rem.LastSent,
	}
	if rem.LocalReminderTime != nil {
		local := clock.MinuteOfDay(*rem.LocalReminderTime).String()
		resp.LocalReminderTime = &local
	}
	return resp
}
