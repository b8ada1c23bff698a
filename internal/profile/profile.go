// Package profile stores the user's contact details and display preferences.
package profile

import (
	"context"
	"fmt"
	"strconv"

	"slotbook/internal/repository"

	"github.com/go-playground/validator/v10"
)

// Storage keys, one plain string per field.
const (
	KeyName               = "userName"
	KeyEmail              = "userEmail"
	KeyPhone              = "userPhone"
	KeyEmailNotifications = "emailNotifications"
	KeyReminderTime       = "reminderTime"
	KeyCompactView        = "compactView"
	KeyHighContrast       = "highContrast"
	KeyLanguage           = "language"
)

const (
	DefaultReminderTime = "24h"
	DefaultLanguage     = "english"
)

type Profile struct {
	Name               string `json:"name"`
	Email              string `json:"email" validate:"omitempty,email"`
	Phone              string `json:"phone"`
	EmailNotifications bool   `json:"email_notifications"`
	ReminderTime       string `json:"reminder_time" validate:"oneof=24h 3h 1h"`
	CompactView        bool   `json:"compact_view"`
	HighContrast       bool   `json:"high_contrast"`
	Language           string `json:"language" validate:"oneof=english spanish french german"`
}

// Default returns the profile used when nothing has been saved.
func Default() Profile {
	return Profile{ReminderTime: DefaultReminderTime, Language: DefaultLanguage}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the email format and the enumerated preferences.
func (p Profile) Validate() error {
	return validate.Struct(p)
}

// Load reads every profile key. Missing keys keep their defaults.
func Load(ctx context.Context, storage repository.Storage) (Profile, error) {
	p := Default()

	get := func(key string) (string, bool, error) {
		v, ok, err := storage.Get(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("load profile %s: %w", key, err)
		}
		return v, ok, nil
	}

	strs := []struct {
		key string
		dst *string
	}{
		{KeyName, &p.Name},
		{KeyEmail, &p.Email},
		{KeyPhone, &p.Phone},
		{KeyReminderTime, &p.ReminderTime},
		{KeyLanguage, &p.Language},
	}
	for _, f := range strs {
		v, ok, err := get(f.key)
		if err != nil {
			return Default(), err
		}
		if ok && v != "" {
			*f.dst = v
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{KeyEmailNotifications, &p.EmailNotifications},
		{KeyCompactView, &p.CompactView},
		{KeyHighContrast, &p.HighContrast},
	}
	for _, f := range bools {
		v, _, err := get(f.key)
		if err != nil {
			return Default(), err
		}
		*f.dst = v == "true"
	}

	return p, nil
}

// Save validates p and writes all keys in one call.
func Save(ctx context.Context, storage repository.Storage, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	err := storage.SetMulti(ctx, map[string]string{
		KeyName:               p.Name,
		KeyEmail:              p.Email,
		KeyPhone:              p.Phone,
		KeyEmailNotifications: strconv.FormatBool(p.EmailNotifications),
		KeyReminderTime:       p.ReminderTime,
		KeyCompactView:        strconv.FormatBool(p.CompactView),
		KeyHighContrast:       strconv.FormatBool(p.HighContrast),
		KeyLanguage:           p.Language,
	})
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
