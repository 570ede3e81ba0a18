package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard 5-field expressions plus the @every /
// @daily style descriptors. 6-field (seconds) expressions are rejected.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is a cron expression paired with an IANA timezone.
type Schedule struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone"`
}

// Validate checks the cron syntax and the timezone. An empty timezone
// defaults to UTC.
func (s Schedule) Validate() error {
	if s.Cron == "" {
		return errors.New("cron expression is required")
	}
	if _, err := cronParser.Parse(s.Cron); err != nil {
		return errors.Wrapf(err, "invalid cron expression %q", s.Cron)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return errors.Wrapf(err, "invalid timezone %q", s.Timezone)
		}
	}
	return nil
}

// Location resolves the schedule's timezone, defaulting to UTC.
func (s Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
