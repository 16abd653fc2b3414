package types

import (
	"math"
	"time"
)

// Telemetry is a point-in-time view of the controller, produced after every
// tick for the display, Redis and metrics.
type Telemetry struct {
	Mode         Mode          `json:"mode"`
	PreviousMode Mode          `json:"previous_mode"`
	State        CycleState    `json:"state"`
	CycleTimer   time.Duration `json:"cycle_timer"`
	PartCount    uint64        `json:"part_count"`
	TotalCount   uint64        `json:"total_count"`
	CycleEnabled bool          `json:"cycle_enabled"`
	PartLatched  bool          `json:"part_latched"`
	PartDetect   bool          `json:"part_detect"`
	EStop        bool          `json:"estop"`
	PowerLoss    bool          `json:"power_loss"`
	Faulted      bool          `json:"faulted"`
	CountPending bool          `json:"count_pending"`
	Temperature  float64       `json:"-"`
	Outputs      Outputs       `json:"outputs"`
	Tick         uint64        `json:"tick"`
}

// TemperatureAvailable reports whether the temperature reading is usable.
func (t Telemetry) TemperatureAvailable() bool {
	return !math.IsNaN(t.Temperature)
}

// CycleRecord describes one ejected part.
type CycleRecord struct {
	ID          string
	PartCount   uint64
	TotalCount  uint64
	CycleTime   time.Duration
	InjectTime  time.Duration
	OpenDelay   time.Duration
	DoubleEject bool
	EjectedAt   time.Time
}

// Fault codes reported to the fault set.
const (
	FaultEmergencyStop = 1
	FaultModeCorrupt   = 2
	FaultPowerLoss     = 3
	FaultCountPersist  = 4
)

// TickInfo describes how long one scheduler tick took.
type TickInfo struct {
	Elapsed time.Duration
	Overrun bool
}
