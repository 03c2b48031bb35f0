package window

import (
	"fmt"
	"time"

	"github.com/vedant-gala/Credora/internal/models"
)

const LifetimeKey = "lifetime"

// MaxRollingDays bounds the length of a rolling window.
const MaxRollingDays = 100000

var (
	// Earliest is the first resolvable instant.
	Earliest = time.Unix(0, 0).UTC()
	// Latest is the first instant that can no longer be resolved.
	Latest = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Instance is one concrete, bounded occurrence of a rule's window: [Start, End).
type Instance struct {
	Key   string
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the instance.
func (i Instance) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Resolver maps a window definition and a timestamp to the window instance
// containing it. Calendar boundaries are computed in the resolver's location.
type Resolver struct {
	loc *time.Location
}

// NewResolver creates a resolver for the given location (UTC if nil).
func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

// Location returns the resolver's location.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Resolve returns the instance of spec that contains at.
func (r *Resolver) Resolve(spec models.WindowSpec, at time.Time) (Instance, error) {
	invalid := func(reason string) (Instance, error) {
		return Instance{}, &models.InvalidWindowError{Window: spec, At: at, Reason: reason}
	}

	if at.IsZero() {
		return invalid("timestamp is required")
	}
	if at.Before(Earliest) {
		return invalid("timestamp precedes the earliest resolvable window")
	}
	if !at.Before(Latest) {
		return invalid("timestamp is beyond the latest resolvable window")
	}

	t := at.In(r.loc)

	switch spec.Kind {
	case models.WindowCalendarMonth:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, r.loc)
		return Instance{
			Key:   start.Format("2006-01"),
			Start: start,
			End:   start.AddDate(0, 1, 0),
		}, nil

	case models.WindowCalendarQuarter:
		q := (int(t.Month()) - 1) / 3
		start := time.Date(t.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, r.loc)
		return Instance{
			Key:   fmt.Sprintf("%04d-Q%d", t.Year(), q+1),
			Start: start,
			End:   start.AddDate(0, 3, 0),
		}, nil

	case models.WindowCalendarYear:
		start := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, r.loc)
		return Instance{
			Key:   fmt.Sprintf("%04d", t.Year()),
			Start: start,
			End:   start.AddDate(1, 0, 0),
		}, nil

	case models.WindowRollingDays:
		if spec.Days < 1 {
			return invalid("rolling window needs at least one day")
		}
		if spec.Days > MaxRollingDays {
			return invalid(fmt.Sprintf("rolling window cannot exceed %d days", MaxRollingDays))
		}
		if spec.Anchor.IsZero() {
			return invalid("rolling window needs an anchor")
		}
		a := spec.Anchor.In(r.loc)
		anchor := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, r.loc)
		if t.Before(anchor) {
			return invalid("timestamp precedes the rolling window anchor")
		}
		// Buckets are whole local days, so boundaries stay on midnight across DST.
		idx := daysBetween(anchor, t) / spec.Days
		start := anchor.AddDate(0, 0, idx*spec.Days)
		return Instance{
			Key:   fmt.Sprintf("r%d:%s", spec.Days, start.Format("2006-01-02")),
			Start: start,
			End:   anchor.AddDate(0, 0, (idx+1)*spec.Days),
		}, nil

	case models.WindowLifetime, "":
		return Instance{Key: LifetimeKey, Start: Earliest, End: Latest}, nil

	default:
		return invalid(fmt.Sprintf("unknown window kind %q", spec.Kind))
	}
}

// daysBetween counts the calendar days from from's date to to's date, both
// read in their own locations.
func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}

// Describe renders a window definition for rationale strings.
func Describe(spec models.WindowSpec) string {
	switch spec.Kind {
	case models.WindowCalendarMonth:
		return "month"
	case models.WindowCalendarQuarter:
		return "quarter"
	case models.WindowCalendarYear:
		return "year"
	case models.WindowRollingDays:
		return fmt.Sprintf("%d days", spec.Days)
	default:
		return "lifetime"
	}
}
