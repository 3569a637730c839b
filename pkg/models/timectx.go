package models

import (
	"errors"
	"time"
)

// Time context modes.
const (
	ModeProduction = "production"
	ModeSimulation = "simulation"
)

// TimeContext controls temporal visibility for the whole system. In
// production mode CurrentTime tracks real now; in simulation mode it is
// a historical clock and data queries are bounded by it.
type TimeContext struct {
	CurrentTime  time.Time `json:"current_time"`
	Mode         string    `json:"mode"`
	SimulationID string    `json:"simulation_id,omitempty"`
}

// ProductionTime returns a production-mode context at real now.
func ProductionTime() TimeContext {
	return TimeContext{CurrentTime: time.Now().UTC(), Mode: ModeProduction}
}

// SimulationTime returns a simulation-mode context at a historical instant.
func SimulationTime(at time.Time, simulationID string) TimeContext {
	return TimeContext{CurrentTime: at, Mode: ModeSimulation, SimulationID: simulationID}
}

// Now returns the effective current time: real now in production,
// the simulated clock otherwise.
func (tc TimeContext) Now() time.Time {
	if tc.Mode == ModeSimulation {
		return tc.CurrentTime
	}
	return time.Now().UTC()
}

// AdvanceTo moves the simulated clock forward. Only valid in simulation mode.
func (tc *TimeContext) AdvanceTo(at time.Time) error {
	if tc.Mode != ModeSimulation {
		return errors.New("cannot advance time in production mode")
	}
	tc.CurrentTime = at
	return nil
}

// IsSimulation reports whether the context runs on a simulated clock.
func (tc TimeContext) IsSimulation() bool {
	return tc.Mode == ModeSimulation
}
