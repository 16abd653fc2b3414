package core

import (
	"molder/internal/fsm"
	"molder/internal/types"
)

// sampleInputs reads the inputs once per tick. A failed E-stop read counts
// as active; a failed part-detect or power-loss read counts as inactive.
func (c *Controller) sampleInputs() {
	estop := c.readInput(types.InputEStop, true)
	if estop && !c.estop {
		c.logger.Warnf("E-stop active")
		c.raiseFault(types.FaultEmergencyStop, "emergency stop active")
	} else if !estop && c.estop {
		c.logger.Infof("E-stop cleared")
		c.clearFault(types.FaultEmergencyStop)
	}
	c.estop = estop

	present := c.readInput(types.InputPartDetect, false)
	c.partDetect = present
	if present {
		c.partLatch = true
	}

	lost := c.readInput(types.InputPowerLoss, false)
	if lost && !c.powerLoss {
		c.logger.Warnf("Power loss detected")
		c.raiseFault(types.FaultPowerLoss, "supply power lost")
		if c.countPending {
			c.retryPendingCount()
		}
	} else if !lost && c.powerLoss {
		c.logger.Infof("Power restored")
		c.clearFault(types.FaultPowerLoss)
	}
	c.powerLoss = lost
}

// applyInterlock forces the abort path while the E-stop is active. It runs
// before the mode switch, so the forced mode is seen on the same tick.
func (c *Controller) applyInterlock() {
	if !c.estop {
		return
	}

	c.outputs = types.Outputs{}
	c.timer = 0
	c.cycleEnabled = false
	c.state = types.StateIdle
	c.manualClose = false
	c.manualInject = false

	if c.mode == types.ModeAbort {
		return
	}
	if err := c.sendEvent(fsm.EvEmergencyStop); err != nil {
		c.logger.Errorf("Failed to force abort: %v", err)
	}
}

// readInput returns fallback when the read fails. Failures are logged once
// until the input reads again.
func (c *Controller) readInput(channel string, fallback bool) bool {
	v, err := c.io.ReadDigitalInput(channel)
	if err != nil {
		if !c.inputFailing[channel] {
			c.logger.Errorf("Failed to read %s, using %v: %v", channel, fallback, err)
			c.inputFailing[channel] = true
		}
		return fallback
	}
	if c.inputFailing[channel] {
		c.logger.Infof("Input %s readable again", channel)
		delete(c.inputFailing, channel)
	}
	return v
}
