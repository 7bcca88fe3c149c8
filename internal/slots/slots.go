// Package slots builds the fixed list of bookable start times for a day and
// marks the ones that are already taken.
package slots

import (
	"errors"
	"fmt"
	"time"
)

const (
	// Granularity is the distance between two consecutive slot start times.
	Granularity = 15 * time.Minute

	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

var (
	ErrBadDate  = errors.New("date must use the YYYY-MM-DD format")
	ErrBadClock = errors.New("time must use the HH:MM format")
	ErrOffGrid  = errors.New("time must fall on a 15 minute boundary")
)

// Config describes the clinic's daily slot grid.
type Config struct {
	BaseHour     int    // first slot of the day, e.g. 8 for 08:00
	DefaultCount int    // size of the short list shown by default
	ClosingTime  string // HH:MM; the last slot starts one granularity before
	Location     *time.Location
}

// Catalog is the set of candidate start times for any clinic day.
type Catalog struct {
	base         time.Duration
	closing      time.Duration
	defaultCount int
	loc          *time.Location
}

// Slot is a candidate start time and whether it can still be picked.
type Slot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

func NewCatalog(cfg Config) (*Catalog, error) {
	if cfg.BaseHour < 0 || cfg.BaseHour > 23 {
		return nil, fmt.Errorf("slots: base hour %d out of range", cfg.BaseHour)
	}
	closing, err := ParseClock(cfg.ClosingTime)
	if err != nil {
		return nil, fmt.Errorf("slots: closing time: %w", err)
	}
	base := time.Duration(cfg.BaseHour) * time.Hour
	if closing <= base {
		return nil, fmt.Errorf("slots: closing time %s is not after base hour %02d:00", cfg.ClosingTime, cfg.BaseHour)
	}
	if cfg.DefaultCount <= 0 {
		return nil, fmt.Errorf("slots: default count must be positive, got %d", cfg.DefaultCount)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Catalog{base: base, closing: closing, defaultCount: cfg.DefaultCount, loc: loc}, nil
}

// Candidates returns the short default list, or every slot up to closing
// time when extended is set. The short list never runs past closing time.
func (c *Catalog) Candidates(extended bool) []string {
	var out []string
	for t := c.base; t < c.closing; t += Granularity {
		if !extended && len(out) == c.defaultCount {
			break
		}
		out = append(out, formatClock(t))
	}
	return out
}

// Contains reports whether clock is one of the extended candidates.
func (c *Catalog) Contains(clock string) bool {
	d, err := ParseClock(clock)
	if err != nil {
		return false
	}
	return d >= c.base && d < c.closing
}

// Location is the clinic time zone used to interpret dates and times.
func (c *Catalog) Location() *time.Location { return c.loc }

// ParseDate parses a YYYY-MM-DD clinic day.
func (c *Catalog) ParseDate(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, c.loc)
	if err != nil {
		return time.Time{}, ErrBadDate
	}
	return t, nil
}

// Start returns the instant a slot begins. The wall clock is kept on days
// when the clinic zone changes its UTC offset.
func (c *Catalog) Start(date, clock string) (time.Time, error) {
	day, err := c.ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	offset, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, int(offset/time.Hour), int(offset%time.Hour/time.Minute), 0, 0, c.loc), nil
}

// Today returns the clinic-local date for now.
func (c *Catalog) Today(now time.Time) string {
	return now.In(c.loc).Format(DateLayout)
}

// ParseClock converts an HH:MM value on the slot grid to an offset from midnight.
func ParseClock(clock string) (time.Duration, error) {
	if len(clock) != len(ClockLayout) {
		return 0, ErrBadClock
	}
	t, err := time.Parse(ClockLayout, clock)
	if err != nil {
		return 0, ErrBadClock
	}
	d := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	if d%Granularity != 0 {
		return 0, ErrOffGrid
	}
	return d, nil
}

func formatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// Filter marks every candidate present in booked as unavailable.
func Filter(candidates, booked []string) []Slot {
	taken := make(map[string]bool, len(booked))
	for _, b := range booked {
		taken[b] = true
	}

	out := make([]Slot, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Slot{Time: c, Available: !taken[c]})
	}
	return out
}
