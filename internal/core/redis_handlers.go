package core

import (
	"fmt"
	"strconv"

	"molder/internal/messaging"
	"molder/internal/types"
)

// handleCycleCommand handles molder:cycle commands from Redis
func (c *Controller) handleCycleCommand(command string) error {
	c.logger.Debugf("Handling cycle command: %s", command)

	switch command {
	case messaging.CycleStart:
		return c.StartPressed()
	case messaging.CycleStop:
		return c.StartReleased()
	case messaging.CycleAbort:
		return c.AbortPressed()
	case messaging.CycleAbortRelease:
		return c.AbortReleased()
	default:
		return fmt.Errorf("invalid cycle command: %s", command)
	}
}

// handleManualCommand handles molder:manual output requests from Redis
func (c *Controller) handleManualCommand(output string, on bool) error {
	c.logger.Debugf("Handling manual request: %s=%v", output, on)

	switch output {
	case messaging.ManualClose:
		return c.SetManualClose(on)
	case messaging.ManualInject:
		return c.SetManualInject(on)
	default:
		return fmt.Errorf("invalid manual output: %s", output)
	}
}

// handleSettingsCommand handles molder:settings updates from Redis. Times
// are given in seconds.
func (c *Controller) handleSettingsCommand(key, value string) error {
	c.logger.Debugf("Handling settings update: %s=%s", key, value)

	switch key {
	case messaging.SettingSave:
		return c.SaveSettings()
	case messaging.SettingDoubleEject, messaging.SettingDoubleInject:
		on, err := parseSwitch(value)
		if err != nil {
			return err
		}
		if key == messaging.SettingDoubleEject {
			return c.SetDoubleEject(on)
		}
		return c.SetDoubleInject(on)
	case messaging.SettingCycleTime, messaging.SettingInjectTime, messaging.SettingOpenDelay:
		sec, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", key, value, err)
		}
		d, err := types.SecondsToDuration(sec)
		if err != nil {
			return fmt.Errorf("invalid %s value: %w", key, err)
		}
		switch key {
		case messaging.SettingCycleTime:
			return c.SetCycleTime(d)
		case messaging.SettingInjectTime:
			return c.SetInjectTime(d)
		default:
			return c.SetOpenDelay(d)
		}
	default:
		return fmt.Errorf("unknown setting: %s", key)
	}
}

func parseSwitch(value string) (bool, error) {
	switch value {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch value: %s", value)
}
