package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"slotbook/internal/booking"
	"slotbook/internal/export"
	"slotbook/internal/models"
	"slotbook/internal/profile"
	"slotbook/internal/repository"
	"slotbook/internal/slots"
	"slotbook/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type handlers struct {
	store         *store.Store
	sessions      *booking.SessionStore
	storage       repository.Storage
	schedule      slots.Schedule
	upcomingLimit int
	slots         *slots.Generator
	now           func() time.Time
	logger        *zerolog.Logger
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	filter, err := store.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, AppointmentsResponse{Appointments: h.store.History(h.now(), filter)})
}

func (h *handlers) upcoming(w http.ResponseWriter, r *http.Request) {
	limit := h.upcomingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, AppointmentsResponse{Appointments: h.store.Upcoming(h.now(), limit)})
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "appointment_not_found", "appointment does not exist")
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.store.Cancel(r.Context(), chi.URLParam(r, "id"), h.now())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *handlers) blockedDates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, BlockedDatesResponse{Dates: h.store.BlockedDates()})
}

func (h *handlers) blockDate(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r)
	if !ok {
		return
	}
	if err := h.store.BlockDate(r.Context(), date); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BlockedDatesResponse{Dates: h.store.BlockedDates()})
}

func (h *handlers) unblockDate(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r)
	if !ok {
		return
	}
	if err := h.store.UnblockDate(r.Context(), date); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BlockedDatesResponse{Dates: h.store.BlockedDates()})
}

func (h *handlers) daySlots(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r)
	if !ok {
		return
	}
	grid, err := h.slots.GenerateSlots(r.Context(), date, h.schedule)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DaySlotsResponse{
		Date:    date,
		Blocked: h.store.IsBlocked(date),
		Slots:   slots.ToSlotInfo(filterSlots(r, grid)),
	})
}

func (h *handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := profile.Load(r.Context(), h.storage)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) putProfile(w http.ResponseWriter, r *http.Request) {
	p := profile.Default()
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := profile.Save(r.Context(), h.storage, p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) exportWorkbook(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="appointments.xlsx"`)
	if err := export.WriteCalendar(w, h.store.List(), h.store.BlockedDates()); err != nil {
		h.logger.Error().Err(err).Msg("failed to export appointments")
	}
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	if p, err := profile.Load(r.Context(), h.storage); err != nil {
		h.logger.Warn().Err(err).Msg("failed to load profile for prefill")
	} else {
		s.Workflow.Prefill(p)
	}
	writeJSON(w, http.StatusCreated, SessionResponse{ID: s.ID, Workflow: s.Workflow.Snapshot()})
}

func (h *handlers) session(w http.ResponseWriter, r *http.Request) (*booking.Session, bool) {
	s, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found", "session does not exist or has expired")
		return nil, false
	}
	return s, true
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{ID: s.ID, Workflow: s.Workflow.Snapshot()})
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Delete(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session_not_found", "session does not exist or has expired")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) sessionSlots(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	grid, err := s.Workflow.Slots(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	snap := s.Workflow.Snapshot()
	writeJSON(w, http.StatusOK, DaySlotsResponse{
		Date:    snap.Date,
		Blocked: h.store.IsBlocked(snap.Date),
		Slots:   slots.ToSlotInfo(filterSlots(r, grid)),
	})
}

func (h *handlers) chooseDate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ChooseDateRequest
	if !decode(w, r, &req) {
		return
	}
	choice, err := s.Workflow.ChooseDate(r.Context(), models.Date(req.Date))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChooseDateResponse{Choice: choice, Workflow: s.Workflow.Snapshot()})
}

func (h *handlers) chooseTime(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ChooseTimeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Workflow.ChooseTime(r.Context(), req.Time); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{ID: s.ID, Workflow: s.Workflow.Snapshot()})
}

func (h *handlers) setDetails(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req booking.Details
	if !decode(w, r, &req) {
		return
	}
	if err := s.Workflow.SetDetails(req); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{ID: s.ID, Workflow: s.Workflow.Snapshot()})
}

func (h *handlers) setMode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ModeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Workflow.SetMode(booking.Mode(req.Mode)); err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{ID: s.ID, Workflow: s.Workflow.Snapshot()})
}

func (h *handlers) resetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Workflow.Reset()
	writeJSON(w, http.StatusOK, SessionResponse{ID: s.ID, Workflow: s.Workflow.Snapshot()})
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	appt, err := s.Workflow.Submit(r.Context())
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitResponse{Appointment: appt, Workflow: s.Workflow.Snapshot()})
}

// filterSlots keeps only bookable slots when the request asks for ?available=true.
func filterSlots(r *http.Request, grid []slots.Slot) []slots.Slot {
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("available")); ok {
		return slots.GetAvailableSlots(grid)
	}
	return grid
}

func dateParam(w http.ResponseWriter, r *http.Request) (models.Date, bool) {
	date, err := models.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return "", false
	}
	return date, true
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func handleDomainError(w http.ResponseWriter, err error) {
	var (
		validationErr *booking.ValidationError
		staleErr      *booking.StaleSelectionError
		storageErr    *store.StorageError
	)
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.As(err, &staleErr), errors.Is(err, store.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.As(err, &storageErr):
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
	case errors.Is(err, store.ErrInvalidDraft), errors.Is(err, booking.ErrUnknownMode):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrWorkflowClosed):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, store.ErrPastAppointment):
		writeError(w, http.StatusConflict, "appointment_in_past", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, booking.ErrSubmitInProgress):
		writeError(w, http.StatusConflict, "submit_in_progress", err.Error())
	case errors.Is(err, booking.ErrSubmitAbandoned):
		writeError(w, http.StatusConflict, "submit_abandoned", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request_cancelled", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
