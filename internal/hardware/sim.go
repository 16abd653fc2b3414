package hardware

import (
	"fmt"
	"sync"

	"molder/internal/logger"
	"molder/internal/types"
)

// SimulatedIO is an in-memory port for running the controller on a bench
// without the machine. A part is reported at the detect switch while the
// blow-off output is asserted, so automatic cycles keep looping.
type SimulatedIO struct {
	logger  *logger.Logger
	mu      sync.RWMutex
	inputs  map[string]bool
	outputs map[string]bool
}

func NewSimulatedIO(l *logger.Logger) *SimulatedIO {
	s := &SimulatedIO{
		logger:  l.WithTag("sim"),
		inputs:  make(map[string]bool),
		outputs: make(map[string]bool),
	}
	for _, ch := range []string{types.InputEStop, types.InputPartDetect, types.InputPowerLoss} {
		s.inputs[ch] = false
	}
	for _, ch := range []string{types.OutputMoldClose, types.OutputInject, types.OutputEject, types.OutputHeater, types.OutputEStop} {
		s.outputs[ch] = false
	}
	return s
}

func (s *SimulatedIO) Initialize() error {
	s.logger.Infof("Using simulated hardware IO")
	return nil
}

func (s *SimulatedIO) ReadDigitalInput(channel string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.inputs[channel]
	if !ok {
		return false, fmt.Errorf("unknown input channel: %s", channel)
	}
	if channel == types.InputPartDetect && s.outputs[types.OutputEject] {
		return true, nil
	}
	return v, nil
}

func (s *SimulatedIO) WriteDigitalOutput(channel string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.outputs[channel]
	if !ok {
		return fmt.Errorf("unknown digital output channel: %s", channel)
	}
	if prev != value {
		s.logger.Debugf("Set DO %s=%v", channel, value)
	}
	s.outputs[channel] = value
	return nil
}

// SetInput forces an input level.
func (s *SimulatedIO) SetInput(channel string, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[channel] = value
}

// Output returns the last written value of an output.
func (s *SimulatedIO) Output(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outputs[channel]
}

func (s *SimulatedIO) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.outputs {
		s.outputs[ch] = false
	}
}
