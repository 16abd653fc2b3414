package core

import (
	"time"

	"molder/internal/fsm"
	"molder/internal/types"
)

// Eject window offsets, measured from the Open -> Eject threshold.
const (
	ejectPulse   = 200 * time.Millisecond
	ejectSettle  = 400 * time.Millisecond
	pumpStart    = 700 * time.Millisecond
	pumpRelease  = 1500 * time.Millisecond
	pumpComplete = 2000 * time.Millisecond
)

// thresholds are the absolute cycle timer values of one cycle, computed
// once at Close entry. Later settings changes apply to the next cycle.
type thresholds struct {
	settings types.Settings

	inject time.Duration // Close -> Cool
	open   time.Duration // Cool -> Open
	eject  time.Duration // Open -> Eject

	ejectOff time.Duration
	detect   time.Duration

	pumpStart    time.Duration
	pumpRelease  time.Duration
	pumpComplete time.Duration
}

func newThresholds(s types.Settings) thresholds {
	eject := s.CycleTime + s.OpenDelay
	return thresholds{
		settings:     s,
		inject:       s.InjectTime,
		open:         s.CycleTime,
		eject:        eject,
		ejectOff:     eject + ejectPulse,
		detect:       eject + ejectSettle,
		pumpStart:    eject + pumpStart,
		pumpRelease:  eject + pumpRelease,
		pumpComplete: eject + pumpComplete,
	}
}

// advanceCycle runs the State layer once. The checks cascade in cycle
// order, so a state entered on this tick is evaluated against the same
// timer value.
func (c *Controller) advanceCycle() error {
	if c.state == types.StateIdle {
		c.startCycle()
	} else if c.state.Timed() {
		c.timer += TickPeriod
	}

	t := &c.thresholds

	if c.state == types.StateClose && c.timer >= t.inject {
		c.setState(types.StateCool)
		c.outputs.Inject = false
	}

	if c.state == types.StateCool && c.timer >= t.open {
		c.setState(types.StateOpen)
		c.outputs.MoldClose = false
		c.partLatch = false
	}

	if c.state == types.StateOpen && c.timer >= t.eject {
		c.setState(types.StateEject)
		c.outputs.Eject = true
		c.recordEject()
	}

	if c.state == types.StateEject {
		if t.settings.DoubleEject {
			// Highest satisfied threshold wins
			switch {
			case c.timer >= t.pumpComplete:
				c.enterDetect()
			case c.timer >= t.pumpRelease:
				c.outputs.MoldClose = false
			case c.timer >= t.pumpStart:
				c.outputs.Eject = false
				c.outputs.MoldClose = true
			}
		} else {
			if c.timer >= t.ejectOff {
				c.outputs.Eject = false
			}
			if c.timer >= t.detect {
				c.enterDetect()
			}
		}
	}

	if c.state == types.StateDetect {
		if c.mode == types.ModeAutoStop {
			c.logger.Infof("Cycle finished, stopping")
			return c.sendEvent(fsm.EvCycleFinished)
		}
		if c.partLatch {
			c.startCycle()
		}
	}

	return nil
}

// startCycle enters Close from Idle or Detect and snapshots the settings.
func (c *Controller) startCycle() {
	c.thresholds = newThresholds(c.settings)
	c.setState(types.StateClose)
	c.timer = 0
	c.cycleEnabled = true
	c.outputs.MoldClose = true
	c.outputs.Inject = true
	c.outputs.Eject = false
}

// enterDetect parks the cycle with eject and mold-close released.
func (c *Controller) enterDetect() {
	c.setState(types.StateDetect)
	c.outputs.Eject = false
	c.outputs.MoldClose = false
}

func (c *Controller) setState(s types.CycleState) {
	c.logger.Debugf("State transition: %s -> %s at %v", c.state, s, c.timer)
	c.state = s
}
