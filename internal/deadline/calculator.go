// Package deadline holds the pure scheduling arithmetic: computing a
// condition's delivery deadline and expanding it into a reminder plan.
package deadline

import (
	"fmt"
	"time"

	"github.com/everkeep/everkeep/server/internal/model"
)

// Next computes the absolute delivery deadline for a condition, or nil
// when the condition has no computable deadline (never checked in, no
// threshold configured). Past deadlines are returned as-is; deciding how
// to react to an overdue deadline belongs to the plan generator.
func Next(c *model.Condition, now time.Time) (*time.Time, error) {
	if c.Kind == model.TriggerPanic {
		// Panic conditions fire manually and never carry a deadline.
		return nil, fmt.Errorf("deadline for %s condition %s: %w", c.Kind, c.ConditionID, model.ErrInvalidConditionKind)
	}

	if c.Kind == model.TriggerScheduled {
		if c.TriggerDate == nil {
			return nil, nil
		}
		d := *c.TriggerDate
		return &d, nil
	}

	if c.Kind.UsesCheckIn() {
		if c.LastChecked == nil {
			return nil, nil
		}
		// A zero threshold is a valid immediate deadline; only a fully
		// unset threshold pair means "no deadline".
		if c.HoursThreshold == nil && c.MinutesThreshold == nil {
			return nil, nil
		}
		d := *c.LastChecked
		if c.HoursThreshold != nil {
			d = d.Add(time.Duration(*c.HoursThreshold) * time.Hour)
		}
		if c.MinutesThreshold != nil {
			d = d.Add(time.Duration(*c.MinutesThreshold) * time.Minute)
		}
		return &d, nil
	}

	return nil, nil
}
