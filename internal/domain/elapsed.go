package domain

import (
	"fmt"
	"math"
	"time"
)

// TimeUnit is the unit an Elapsed magnitude is expressed in
type TimeUnit string

const (
	UnitHours TimeUnit = "hours"
	UnitDays  TimeUnit = "days"
)

// Elapsed is a non-negative duration with an explicit unit
type Elapsed struct {
	Magnitude float64
	Unit      TimeUnit
}

// ElapsedBetween returns whole days when at least a day has passed, otherwise hours
// rounded to one decimal. A negative interval yields zero hours.
func ElapsedBetween(from, to time.Time) Elapsed {
	d := to.Sub(from)
	if d < 0 {
		d = 0
	}
	if d >= 24*time.Hour {
		return Elapsed{Magnitude: math.Floor(d.Hours() / 24), Unit: UnitDays}
	}
	return Elapsed{Magnitude: math.Round(d.Hours()*10) / 10, Unit: UnitHours}
}

// Hours converts the value to hours
func (e Elapsed) Hours() float64 {
	if e.Unit == UnitDays {
		return e.Magnitude * 24
	}
	return e.Magnitude
}

func (e Elapsed) String() string {
	return fmt.Sprintf("%.1f %s", e.Magnitude, e.Unit)
}

// HumanizeHours renders an hour count as days when it spans at least one day
func HumanizeHours(hours float64) string {
	if hours >= 24 {
		return fmt.Sprintf("%.1f days", hours/24)
	}
	return fmt.Sprintf("%.1f hours", hours)
}
