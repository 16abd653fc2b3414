package fsm

import "github.com/librescoot/librefsm"

// Actions defines the mode entry actions and guards. The cycle controller
// implements this interface.
type Actions interface {
	// Mode entry actions, run once per actual mode change
	EnterAbort(c *librefsm.Context) error
	EnterAuto(c *librefsm.Context) error
	EnterManual(c *librefsm.Context) error

	// Guards
	IsEStopClear(c *librefsm.Context) bool

	// Transition actions
	OnStartReleased(c *librefsm.Context) error
}
