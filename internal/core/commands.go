package core

import (
	"fmt"
	"time"

	"molder/internal/fsm"
	"molder/internal/types"
)

// checkCommand rejects commands once the controller is halted or stopped
// and, when allowed is non-empty, outside the listed modes. Callers hold c.mu.
func (c *Controller) checkCommand(name string, allowed ...types.Mode) error {
	if c.halted {
		return ErrHalted
	}
	if c.stopped {
		return ErrStopped
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, m := range allowed {
		if c.mode == m {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not allowed in mode %s", ErrCommandRejected, name, c.mode)
}

// StartPressed starts automatic cycling. Only accepted in Manual.
func (c *Controller) StartPressed() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkCommand("start", types.ModeManual); err != nil {
		return err
	}
	c.logger.Infof("Start pressed")
	return c.sendEvent(fsm.EvStartPressed)
}

// StartReleased lets the running cycle finish, then returns to Manual.
// Only accepted in Auto.
func (c *Controller) StartReleased() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkCommand("start-released", types.ModeAuto); err != nil {
		return err
	}
	return c.sendEvent(fsm.EvStartReleased)
}

// AbortPressed cancels the cycle from any mode. Repeating it is a no-op.
func (c *Controller) AbortPressed() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkCommand("abort"); err != nil {
		return err
	}
	c.logger.Infof("Abort pressed in mode %s state %s", c.mode, c.state)

	c.outputs.MoldClose = false
	c.outputs.Inject = false
	c.outputs.Eject = false
	c.manualClose = false
	c.manualInject = false
	c.timer = 0
	c.cycleEnabled = false
	c.state = types.StateIdle

	// Drop the outputs now rather than on the next tick
	c.writeOutputs()

	if c.mode == types.ModeAbort {
		return nil
	}
	return c.sendEvent(fsm.EvAbortPressed)
}

// AbortReleased returns to Manual. Only accepted in Abort with the E-stop
// clear.
func (c *Controller) AbortReleased() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkCommand("abort-released", types.ModeAbort); err != nil {
		return err
	}
	if c.estop {
		return fmt.Errorf("%w: abort-released while E-stop is active", ErrCommandRejected)
	}

	if err := c.sendEvent(fsm.EvAbortReleased); err != nil {
		return err
	}
	c.state = types.StateIdle
	c.autoStop = false
	return nil
}

// SetManualClose requests the mold-close output in Manual mode.
func (c *Controller) SetManualClose(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkCommand("manual-close", types.ModeManual); err != nil {
		return err
	}
	c.manualClose = on
	return nil
}

// SetManualInject requests the inject output in Manual mode.
func (c *Controller) SetManualInject(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkCommand("manual-inject", types.ModeManual); err != nil {
		return err
	}
	c.manualInject = on
	return nil
}

// updateSettings validates and applies a change to the live tunables. The
// running cycle keeps its thresholds until the next Close entry.
func (c *Controller) updateSettings(name string, apply func(*types.Settings)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkCommand(name); err != nil {
		return err
	}

	next := c.settings
	apply(&next)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrCommandRejected, err)
	}
	c.settings = next
	c.logger.Infof("Setting %s updated", name)
	return nil
}

func (c *Controller) SetDoubleEject(on bool) error {
	return c.updateSettings("double-eject", func(s *types.Settings) { s.DoubleEject = on })
}

// SetDoubleInject stores the double-inject flag. The cycle does not use it
// yet.
func (c *Controller) SetDoubleInject(on bool) error {
	return c.updateSettings("double-inject", func(s *types.Settings) { s.DoubleInject = on })
}

func (c *Controller) SetCycleTime(d time.Duration) error {
	return c.updateSettings("cycle-time", func(s *types.Settings) { s.CycleTime = d })
}

func (c *Controller) SetInjectTime(d time.Duration) error {
	return c.updateSettings("inject-time", func(s *types.Settings) { s.InjectTime = d })
}

func (c *Controller) SetOpenDelay(d time.Duration) error {
	return c.updateSettings("open-delay", func(s *types.Settings) { s.OpenDelay = d })
}

// SaveSettings persists the live tunables together with the total count.
func (c *Controller) SaveSettings() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkCommand("save"); err != nil {
		return err
	}
	if err := c.store.SaveSettings(c.settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	c.persistTotalCount()
	c.logger.Infof("Settings saved")
	return nil
}
