package fsm

import "github.com/librescoot/librefsm"

// Operating modes
const (
	StateInit     librefsm.StateID = "init"
	StateAbort    librefsm.StateID = "abort"
	StateAuto     librefsm.StateID = "auto"
	StateAuto2    librefsm.StateID = "auto2"
	StateAutoStop librefsm.StateID = "auto-stop"
	StateManual   librefsm.StateID = "manual"
)

// Mode events
const (
	// Operator commands
	EvStartPressed  librefsm.EventID = "start-pressed"
	EvStartReleased librefsm.EventID = "start-released"
	EvAbortPressed  librefsm.EventID = "abort-pressed"
	EvAbortReleased librefsm.EventID = "abort-released"

	// Controller driven
	EvBootstrap     librefsm.EventID = "bootstrap"
	EvEmergencyStop librefsm.EventID = "emergency-stop"
	EvCycleFinished librefsm.EventID = "cycle-finished"
)
