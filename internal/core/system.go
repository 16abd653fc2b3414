package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/librescoot/librefsm"

	"molder/internal/fsm"
	"molder/internal/logger"
	"molder/internal/messaging"
	"molder/internal/types"
)

// TickPeriod is the fixed controller period (10 Hz). The cycle timer
// advances by exactly this amount per tick.
const TickPeriod = 100 * time.Millisecond

// temperatureEvery is the number of ticks between thermometer reads.
const temperatureEvery = 10

var (
	ErrModeCorrupt     = errors.New("mode outside defined set")
	ErrHalted          = errors.New("controller halted")
	ErrStopped         = errors.New("controller stopped")
	ErrCommandRejected = errors.New("command rejected")
)

// Controller is the cycle controller: the Mode machine, the cycle State
// machine, the part-detect latch, the counters and the safety interlock.
// It holds no global state; the ports are injected.
type Controller struct {
	io          HardwareIO
	store       Store
	redis       MessagingClient
	thermometer Thermometer
	logger      *logger.Logger
	machine     *librefsm.Machine

	mu sync.Mutex

	mode         types.Mode
	previousMode types.Mode
	state        types.CycleState
	timer        time.Duration
	cycleEnabled bool
	autoStop     bool

	// Sampled inputs
	estop      bool
	partDetect bool
	powerLoss  bool
	partLatch  bool

	// Manual output requests
	manualClose  bool
	manualInject bool

	outputs types.Outputs

	// settings are the live tunables, thresholds the snapshot taken at the
	// last Close entry.
	defaults   types.Settings
	settings   types.Settings
	thresholds thresholds

	partCount    uint64
	totalCount   uint64
	countPending bool

	faults       map[int]bool
	inputFailing map[string]bool
	temperature  float64
	ticks        uint64

	halted  bool
	stopped bool
	now     func() time.Time
}

func NewController(io HardwareIO, store Store, redis MessagingClient, l *logger.Logger) *Controller {
	return &Controller{
		io:           io,
		store:        store,
		redis:        redis,
		logger:       l.WithTag("cycle"),
		mode:         types.ModeInit,
		state:        types.StateIdle,
		defaults:     types.DefaultSettings(),
		settings:     types.DefaultSettings(),
		thresholds:   newThresholds(types.DefaultSettings()),
		faults:       make(map[int]bool),
		inputFailing: make(map[string]bool),
		temperature:  math.NaN(),
		now:          time.Now,
	}
}

// SetDefaults sets the tunables used when the store holds none. Call before
// Start.
func (c *Controller) SetDefaults(s types.Settings) {
	c.defaults = s
	c.settings = s
	c.thresholds = newThresholds(s)
}

// SetThermometer attaches an optional temperature source.
func (c *Controller) SetThermometer(t Thermometer) {
	c.thermometer = t
}

func (c *Controller) Start(ctx context.Context) error {
	c.logger.Infof("Starting cycle controller")

	c.redis.SetCallbacks(messaging.Callbacks{
		CycleCallback:    c.handleCycleCommand,
		ManualCallback:   c.handleManualCommand,
		SettingsCallback: c.handleSettingsCommand,
	})

	if err := c.redis.Connect(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if err := c.loadSettings(); err != nil {
		return err
	}
	if err := c.loadTotalCount(); err != nil {
		return err
	}

	if err := c.io.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize hardware: %w", err)
	}

	if err := c.initFSM(ctx); err != nil {
		return fmt.Errorf("failed to initialize mode machine: %w", err)
	}

	if err := c.redis.StartListening(); err != nil {
		return fmt.Errorf("failed to start Redis listeners: %w", err)
	}

	c.logger.Infof("Cycle controller started (total count %s)", humanize.Comma(int64(c.totalCount)))
	return nil
}

func (c *Controller) loadSettings() error {
	s, found, err := c.store.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if !found {
		c.logger.Infof("No stored settings, using defaults")
		s = c.defaults
	}
	if err := s.Validate(); err != nil {
		c.logger.Warnf("Stored settings invalid (%v), using defaults", err)
		s = c.defaults
	}

	c.settings = s
	c.thresholds = newThresholds(s)
	c.logger.Infof("Settings: cycle=%v inject=%v open-delay=%v double-eject=%v double-inject=%v",
		s.CycleTime, s.InjectTime, s.OpenDelay, s.DoubleEject, s.DoubleInject)
	return nil
}

// loadTotalCount takes the larger of the stored count and the Redis mirror.
// The count never decreases, so a larger mirror means the last store write
// was lost.
func (c *Controller) loadTotalCount() error {
	stored, err := c.store.LoadTotalCount()
	if err != nil {
		return fmt.Errorf("failed to load total count: %w", err)
	}

	total := stored
	mirror, err := c.redis.GetTotalCount()
	if err != nil {
		c.logger.Warnf("Failed to read total count mirror: %v", err)
	} else if mirror > stored {
		c.logger.Warnf("Total count mirror %d ahead of store %d, restoring", mirror, stored)
		total = mirror
		if err := c.store.SaveTotalCount(total); err != nil {
			c.logger.Errorf("Failed to persist restored total count: %v", err)
			c.countPending = true
		}
	}

	c.totalCount = total
	return nil
}

// Shutdown de-asserts every output and stops the mode machine. Commands
// and ticks after Shutdown return ErrStopped.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.logger.Infof("Shutting down cycle controller")

	c.outputs = types.Outputs{}
	c.writeOutputs()
	if c.countPending {
		c.retryPendingCount()
	}
	c.mu.Unlock()

	if c.machine != nil {
		c.machine.Stop()
	}
	if err := c.redis.Close(); err != nil {
		c.logger.Warnf("Failed to close Redis client: %v", err)
	}
	c.io.Cleanup()
	if err := c.store.Close(); err != nil {
		c.logger.Warnf("Failed to close store: %v", err)
	}
}

// Tick runs one controller period: interlock, mode layer, state layer,
// output write-back. It returns ErrModeCorrupt or ErrHalted once the
// controller has halted; other errors are reported but leave it running.
func (c *Controller) Tick() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted {
		return ErrHalted
	}
	if c.stopped {
		return ErrStopped
	}
	c.ticks++

	if c.countPending {
		c.retryPendingCount()
	}

	c.sampleInputs()
	c.applyInterlock()

	if err := c.evaluateMode(); err != nil {
		if errors.Is(err, ErrModeCorrupt) {
			c.halt(err)
		}
		return err
	}

	var cycleErr error
	switch c.mode {
	case types.ModeAuto, types.ModeAutoStop:
		cycleErr = c.advanceCycle()
	case types.ModeManual:
		c.outputs.MoldClose = c.manualClose
		c.outputs.Inject = c.manualInject
	}

	// No heater control, the band stays off
	c.outputs.Heater = false

	if c.thermometer != nil && c.ticks%temperatureEvery == 1 {
		c.readTemperature()
	}

	if err := c.writeOutputs(); err != nil {
		return err
	}
	return cycleErr
}

// evaluateMode is the mode switch. Entry actions run inside the mode
// machine on real transitions only, so nothing fires here for settled modes.
func (c *Controller) evaluateMode() error {
	switch c.mode {
	case types.ModeInit:
		return c.sendEvent(fsm.EvBootstrap)
	case types.ModeAbort, types.ModeAuto, types.ModeAuto2, types.ModeAutoStop, types.ModeManual:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrModeCorrupt, c.mode)
	}
}

// halt stops driving the machine after an invariant violation.
func (c *Controller) halt(err error) {
	c.logger.Errorf("Halting controller: %v", err)
	c.halted = true
	c.cycleEnabled = false
	c.outputs = types.Outputs{}
	c.writeOutputs()
	c.raiseFault(types.FaultModeCorrupt, err.Error())
}

func (c *Controller) writeOutputs() error {
	var errs []error
	for ch, v := range c.outputs.Channels() {
		if err := c.io.WriteDigitalOutput(ch, v); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		c.logger.Errorf("Failed to write outputs: %v", err)
		return err
	}
	return nil
}

func (c *Controller) readTemperature() {
	v, err := c.thermometer.ReadCelsius()
	if err != nil {
		if !math.IsNaN(c.temperature) {
			c.logger.Warnf("Temperature unavailable: %v", err)
		}
		c.temperature = math.NaN()
		return
	}
	c.temperature = v
}

func (c *Controller) raiseFault(code int, description string) {
	if c.faults[code] {
		return
	}
	c.faults[code] = true
	if err := c.redis.ReportFaultPresent(code, description); err != nil {
		c.logger.Warnf("Failed to report fault %d: %v", code, err)
	}
}

func (c *Controller) clearFault(code int) {
	if !c.faults[code] {
		return
	}
	delete(c.faults, code)
	if err := c.redis.ReportFaultAbsent(code); err != nil {
		c.logger.Warnf("Failed to clear fault %d: %v", code, err)
	}
}

// Snapshot returns the current telemetry.
func (c *Controller) Snapshot() types.Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()

	return types.Telemetry{
		Mode:         c.mode,
		PreviousMode: c.previousMode,
		State:        c.state,
		CycleTimer:   c.timer,
		PartCount:    c.partCount,
		TotalCount:   c.totalCount,
		CycleEnabled: c.cycleEnabled,
		PartLatched:  c.partLatch,
		PartDetect:   c.partDetect,
		EStop:        c.estop,
		PowerLoss:    c.powerLoss,
		Faulted:      c.halted,
		CountPending: c.countPending,
		Temperature:  c.temperature,
		Outputs:      c.outputs,
		Tick:         c.ticks,
	}
}

// Settings returns the live tunables.
func (c *Controller) Settings() types.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}
