package core

import (
	"molder/internal/messaging"
	"molder/internal/types"
)

// MessagingClient defines the Redis operations needed by the Controller.
// Publishing methods queue work on a background worker and never block the
// tick.
type MessagingClient interface {
	SetCallbacks(callbacks messaging.Callbacks)
	Connect() error
	StartListening() error
	Close() error

	// Counter mirror
	GetTotalCount() (uint64, error)

	// Events
	PublishCycleCompleted(rec types.CycleRecord) error
	ReportFaultPresent(code int, description string) error
	ReportFaultAbsent(code int) error
}

// HardwareIO defines the Actuator/Sensor port. Inputs return their logical
// (active) level.
type HardwareIO interface {
	Initialize() error
	Cleanup()

	ReadDigitalInput(channel string) (bool, error)
	WriteDigitalOutput(channel string, value bool) error
}

// Store is the durable settings and counter store.
type Store interface {
	// LoadSettings reports found=false when nothing has been saved yet.
	LoadSettings() (settings types.Settings, found bool, err error)
	SaveSettings(settings types.Settings) error
	LoadTotalCount() (uint64, error)
	SaveTotalCount(count uint64) error
	Close() error
}

// Thermometer reads the barrel temperature. Optional.
type Thermometer interface {
	ReadCelsius() (float64, error)
}
