package api

import (
	"slotbook/internal/booking"
	"slotbook/internal/models"
	"slotbook/internal/slots"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type AppointmentsResponse struct {
	Appointments []models.Appointment `json:"appointments"`
}

type BlockedDatesResponse struct {
	Dates []models.Date `json:"dates"`
}

type DaySlotsResponse struct {
	Date    models.Date      `json:"date"`
	Blocked bool             `json:"blocked"`
	Slots   []slots.SlotInfo `json:"slots"`
}

type SessionResponse struct {
	ID       string           `json:"id"`
	Workflow booking.Snapshot `json:"workflow"`
}

type ChooseDateRequest struct {
	Date string `json:"date"`
}

type ChooseDateResponse struct {
	Choice   booking.DateChoice `json:"choice"`
	Workflow booking.Snapshot   `json:"workflow"`
}

type ChooseTimeRequest struct {
	Time string `json:"time"`
}

type ModeRequest struct {
	Mode string `json:"mode"`
}

type SubmitResponse struct {
	Appointment models.Appointment `json:"appointment"`
	Workflow    booking.Snapshot   `json:"workflow"`
}
