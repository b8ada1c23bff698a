package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-06-10")
	assert.NoError(t, err)
	assert.Equal(t, Date("2025-06-10"), d)

	_, err = ParseDate("10.06.2025")
	assert.Error(t, err)

	_, err = ParseDate("2025-02-30")
	assert.Error(t, err)
}

func TestDate_Before(t *testing.T) {
	assert.True(t, Date("2025-06-09").Before("2025-06-10"))
	assert.False(t, Date("2025-06-10").Before("2025-06-10"))
	assert.True(t, Date("2024-12-31").Before("2025-01-01"))
}

func TestParseSlotTime(t *testing.T) {
	tests := []struct {
		input  string
		hour   int
		minute int
		ok     bool
	}{
		{"09:00", 9, 0, true},
		{"16:30", 16, 30, true},
		{"9:00", 0, 0, false},
		{"24:00", 0, 0, false},
		{"10:61", 0, 0, false},
		{"", 0, 0, false},
	}

	for _, tt := range tests {
		h, m, err := ParseSlotTime(tt.input)
		assert.Equal(t, tt.ok, err == nil, "input: %s", tt.input)
		if tt.ok {
			assert.Equal(t, tt.hour, h)
			assert.Equal(t, tt.minute, m)
		}
	}
}

func TestAppointment_Helpers(t *testing.T) {
	a := Appointment{ID: "x", Date: "2025-06-10", Time: "09:30"}

	t.Run("StartsAt", func(t *testing.T) {
		start, err := a.StartsAt(time.UTC)
		assert.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC), start)
	})

	t.Run("IsPast", func(t *testing.T) {
		before := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
		exact := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
		assert.False(t, a.IsPast(before))
		assert.True(t, a.IsPast(exact))

		broken := Appointment{Date: "nope", Time: "09:00"}
		assert.True(t, broken.IsPast(before))
	})

	t.Run("Occupies", func(t *testing.T) {
		assert.True(t, a.Occupies("2025-06-10", "09:30"))
		assert.False(t, a.Occupies("2025-06-10", "09:00"))
		assert.False(t, a.Occupies("2025-06-11", "09:30"))
	})
}

func TestDraft_Validate(t *testing.T) {
	assert.NoError(t, Draft{Date: "2025-06-10", Time: "09:00"}.Validate())
	assert.Error(t, Draft{Date: "2025-6-10", Time: "09:00"}.Validate())
	assert.Error(t, Draft{Date: "2025-06-10", Time: "9am"}.Validate())
}
