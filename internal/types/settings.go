package types

import (
	"fmt"
	"math"
	"time"
)

// Settings holds the operator tunables kept in the persistence store.
type Settings struct {
	CycleTime    time.Duration `json:"cycle_time"`
	InjectTime   time.Duration `json:"inject_time"`
	OpenDelay    time.Duration `json:"open_delay"`
	DoubleEject  bool          `json:"double_eject"`
	DoubleInject bool          `json:"double_inject"`
}

// DefaultSettings returns the factory tunables.
func DefaultSettings() Settings {
	return Settings{
		CycleTime:  20 * time.Second,
		InjectTime: 10 * time.Second,
		OpenDelay:  time.Second,
	}
}

// Validate checks that the times are usable as cycle thresholds.
func (s Settings) Validate() error {
	if s.CycleTime < 0 || s.InjectTime < 0 || s.OpenDelay < 0 {
		return fmt.Errorf("negative time in settings: cycle=%v inject=%v open-delay=%v",
			s.CycleTime, s.InjectTime, s.OpenDelay)
	}
	if s.InjectTime > s.CycleTime {
		return fmt.Errorf("inject time %v exceeds cycle time %v", s.InjectTime, s.CycleTime)
	}
	return nil
}

// SecondsToDuration converts an operator-entered number of seconds,
// rounded to the millisecond.
func SecondsToDuration(sec float64) (time.Duration, error) {
	if math.IsNaN(sec) || math.IsInf(sec, 0) {
		return 0, fmt.Errorf("invalid seconds value %v", sec)
	}
	if sec < 0 {
		return 0, fmt.Errorf("negative seconds value %v", sec)
	}
	return time.Duration(math.Round(sec*1000)) * time.Millisecond, nil
}
