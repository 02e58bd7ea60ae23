package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall-clock access so staleness checks and
// schedulers can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func NewSystemClock() Clock {
	return systemClock{}
}

// Module wires the system clock for the application.
var Module = fx.Module("clock",
	fx.Provide(func() Clock { return NewSystemClock() }),
)
