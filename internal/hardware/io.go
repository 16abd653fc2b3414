package hardware

import (
	"fmt"
	"sort"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"molder/internal/logger"
)

type LinuxHardwareIO struct {
	logger  *logger.Logger
	mapping Mapping
	chip    *gpiocdev.Chip
	outputs map[string]*gpiocdev.Line
	inputs  map[string]*gpiocdev.Line
	written map[string]bool // last value written per output
	mu      sync.RWMutex
}

func NewLinuxHardwareIO(mapping Mapping, l *logger.Logger) *LinuxHardwareIO {
	return &LinuxHardwareIO{
		logger:  l.WithTag("gpio"),
		mapping: mapping,
		outputs: make(map[string]*gpiocdev.Line),
		inputs:  make(map[string]*gpiocdev.Line),
		written: make(map[string]bool),
	}
}

func (io *LinuxHardwareIO) Initialize() error {
	io.logger.Infof("Initializing hardware IO on %s", io.mapping.Chip)

	chip, err := gpiocdev.NewChip(io.mapping.Chip, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return fmt.Errorf("failed to open GPIO chip %s: %w", io.mapping.Chip, err)
	}
	io.chip = chip

	io.mu.Lock()
	defer io.mu.Unlock()

	// Every output starts de-asserted
	for _, name := range sortedKeys(io.mapping.Outputs) {
		offset := io.mapping.Outputs[name]
		line, err := chip.RequestLine(offset,
			gpiocdev.AsOutput(0),
			gpiocdev.WithConsumer(Consumer))
		if err != nil {
			return fmt.Errorf("failed to request output line %d (%s): %w", offset, name, err)
		}
		io.outputs[name] = line
		io.written[name] = false
		io.logger.Infof("Configured DO %s: line=%d", name, offset)
	}

	for name, in := range io.mapping.Inputs {
		opts := []gpiocdev.LineReqOption{
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithConsumer(Consumer),
		}
		if in.ActiveLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		line, err := chip.RequestLine(in.Line, opts...)
		if err != nil {
			return fmt.Errorf("failed to request input line %d (%s): %w", in.Line, name, err)
		}
		io.inputs[name] = line
		io.logger.Infof("Configured DI %s: line=%d active_low=%v", name, in.Line, in.ActiveLow)
	}

	return nil
}

// ReadDigitalInput returns the logical (active) state of an input.
func (io *LinuxHardwareIO) ReadDigitalInput(channel string) (bool, error) {
	io.mu.RLock()
	line, ok := io.inputs[channel]
	io.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("unknown input channel: %s", channel)
	}

	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("failed to read DI %s: %w", channel, err)
	}
	return v == 1, nil
}

func (io *LinuxHardwareIO) WriteDigitalOutput(channel string, value bool) error {
	io.mu.Lock()
	defer io.mu.Unlock()

	line, ok := io.outputs[channel]
	if !ok {
		return fmt.Errorf("unknown digital output channel: %s", channel)
	}

	if prev, seen := io.written[channel]; seen && prev == value {
		return nil
	}

	val := 0
	if value {
		val = 1
	}

	if err := line.SetValue(val); err != nil {
		return fmt.Errorf("failed to set DO %s=%v: %w", channel, value, err)
	}
	io.written[channel] = value

	io.logger.Debugf("Set DO %s=%v", channel, value)
	return nil
}

// Cleanup drives every output low and releases the lines.
func (io *LinuxHardwareIO) Cleanup() {
	io.mu.Lock()
	defer io.mu.Unlock()

	io.logger.Infof("Cleaning up hardware resources")

	for name, line := range io.outputs {
		if err := line.SetValue(0); err != nil {
			io.logger.Warnf("Failed to de-assert %s on cleanup: %v", name, err)
		}
		line.Close()
	}
	for _, line := range io.inputs {
		line.Close()
	}
	if io.chip != nil {
		io.chip.Close()
	}

	io.outputs = make(map[string]*gpiocdev.Line)
	io.inputs = make(map[string]*gpiocdev.Line)
	io.logger.Infof("Hardware cleanup complete")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
