package core

import (
	"context"

	"github.com/librescoot/librefsm"

	"molder/internal/fsm"
	"molder/internal/types"
)

// Ensure Controller implements fsm.Actions
var _ fsm.Actions = (*Controller)(nil)

// modeFromStateID converts a librefsm StateID to types.Mode. Unknown IDs
// pass through and are caught by the mode switch as corrupt.
func modeFromStateID(id librefsm.StateID) types.Mode {
	switch id {
	case fsm.StateInit:
		return types.ModeInit
	case fsm.StateAbort:
		return types.ModeAbort
	case fsm.StateAuto:
		return types.ModeAuto
	case fsm.StateAuto2:
		return types.ModeAuto2
	case fsm.StateAutoStop:
		return types.ModeAutoStop
	case fsm.StateManual:
		return types.ModeManual
	default:
		return types.Mode(string(id))
	}
}

// initFSM builds and starts the mode machine. The machine enters Init
// without running any action; the first tick bootstraps it to Manual.
func (c *Controller) initFSM(ctx context.Context) error {
	def := fsm.NewDefinition(c)
	machine, err := def.Build(librefsm.WithLogger(c.logger.WithTag("fsm").Slog()))
	if err != nil {
		return err
	}
	c.machine = machine

	// Runs on the machine goroutine while the caller of sendEvent holds
	// c.mu and waits, so the fields are written without locking.
	c.machine.OnStateChange(func(from, to librefsm.StateID) {
		c.previousMode = modeFromStateID(from)
		c.mode = modeFromStateID(to)
		c.logger.Infof("Mode transition: %s -> %s", c.previousMode, c.mode)
	})

	if err := c.machine.Start(ctx); err != nil {
		return err
	}

	c.logger.Infof("librefsm mode machine started")
	return nil
}

// sendEvent delivers a mode event. Callers hold c.mu.
func (c *Controller) sendEvent(event librefsm.EventID) error {
	if c.machine == nil || c.stopped {
		return ErrStopped
	}
	return c.machine.SendSync(librefsm.Event{ID: event})
}

// === Mode entry actions ===
// These run inside sendEvent and must not take c.mu.

func (c *Controller) EnterAbort(ctx *librefsm.Context) error {
	c.logger.Debugf("FSM: EnterAbort")
	c.outputs.MoldClose = false
	c.outputs.Inject = false
	c.manualClose = false
	c.manualInject = false
	c.state = types.StateIdle
	return nil
}

func (c *Controller) EnterAuto(ctx *librefsm.Context) error {
	c.logger.Debugf("FSM: EnterAuto")
	c.state = types.StateIdle
	return nil
}

func (c *Controller) EnterManual(ctx *librefsm.Context) error {
	c.logger.Debugf("FSM: EnterManual")
	c.outputs.MoldClose = false
	c.outputs.Inject = false
	c.manualClose = false
	c.manualInject = false
	c.autoStop = false
	return nil
}

// === Guards ===

func (c *Controller) IsEStopClear(ctx *librefsm.Context) bool {
	return !c.estop
}

// === Transition actions ===

func (c *Controller) OnStartReleased(ctx *librefsm.Context) error {
	c.logger.Infof("Start released, finishing current cycle")
	c.autoStop = true
	return nil
}
