package understanding

import (
	"time"

	"github.com/statline-ai/statline/pkg/config"
	"github.com/statline-ai/statline/pkg/models"
)

// Calendar maps season labels to date ranges. A season that crosses the
// new year is labelled by the year it ends in.
type Calendar struct {
	StartMonth time.Month
	StartDay   int
	EndMonth   time.Month
	EndDay     int
}

// DefaultCalendar runs seasons from October 1 to June 30.
var DefaultCalendar = Calendar{StartMonth: time.October, StartDay: 1, EndMonth: time.June, EndDay: 30}

// NewCalendar builds a calendar from config, falling back to the default for
// unset fields.
func NewCalendar(cfg config.SeasonConfig) Calendar {
	c := DefaultCalendar
	if cfg.StartMonth >= 1 && cfg.StartMonth <= 12 && cfg.StartDay >= 1 {
		c.StartMonth, c.StartDay = time.Month(cfg.StartMonth), cfg.StartDay
	}
	if cfg.EndMonth >= 1 && cfg.EndMonth <= 12 && cfg.EndDay >= 1 {
		c.EndMonth, c.EndDay = time.Month(cfg.EndMonth), cfg.EndDay
	}
	return c
}

func (c Calendar) crossesYear() bool {
	if c.StartMonth != c.EndMonth {
		return c.StartMonth > c.EndMonth
	}
	return c.StartDay > c.EndDay
}

// Season returns the date range of the season labelled label.
func (c Calendar) Season(label int) models.TimeRange {
	startYear := label
	if c.crossesYear() {
		startYear--
	}
	return models.TimeRange{
		Start: time.Date(startYear, c.StartMonth, c.StartDay, 0, 0, 0, 0, time.UTC),
		End:   time.Date(label, c.EndMonth, c.EndDay, 0, 0, 0, 0, time.UTC),
	}
}

// Seasons returns the range covering seasons first through last inclusive.
func (c Calendar) Seasons(first, last int) models.TimeRange {
	if first > last {
		first, last = last, first
	}
	return models.TimeRange{Start: c.Season(first).Start, End: c.Season(last).End}
}

// SeasonOf returns the season in progress at t. Outside any season it
// returns the most recently completed one and false.
func (c Calendar) SeasonOf(t time.Time) (int, bool) {
	d := day(t)
	for l := d.Year() + 1; l >= d.Year()-1; l-- {
		if c.Season(l).Contains(d) {
			return l, true
		}
	}
	for l := d.Year() + 1; ; l-- {
		if c.Season(l).End.Before(d) {
			return l, false
		}
	}
}

// SeasonsIn returns the first and last seasons whose dates overlap r. An
// open side of r gives 0. A range that falls between seasons yields
// first > last.
func (c Calendar) SeasonsIn(r models.TimeRange) (first, last int) {
	if !r.Start.IsZero() {
		l, in := c.SeasonOf(r.Start)
		if !in {
			l++
		}
		first = l
	}
	if !r.End.IsZero() {
		last, _ = c.SeasonOf(r.End)
	}
	return first, last
}

// LastCompleted returns the most recent season that has finished by t.
func (c Calendar) LastCompleted(t time.Time) int {
	l, in := c.SeasonOf(t)
	if in {
		return l - 1
	}
	return l
}

// Current returns the season in progress at t, or the next one during the
// off-season.
func (c Calendar) Current(t time.Time) int {
	l, in := c.SeasonOf(t)
	if in {
		return l
	}
	return l + 1
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
