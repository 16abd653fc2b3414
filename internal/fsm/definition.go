package fsm

import "github.com/librescoot/librefsm"

// abortable lists the modes that abort and emergency stop leave from.
var abortable = []librefsm.StateID{StateInit, StateAuto, StateAuto2, StateAutoStop, StateManual}

// NewDefinition creates the mode FSM definition. Auto2 and AutoStop carry no
// entry action; AutoStop finishes the running cycle and is ended by the
// cycle controller with EvCycleFinished.
func NewDefinition(actions Actions) *librefsm.Definition {
	def := librefsm.NewDefinition().
		State(StateInit).
		State(StateAbort,
			librefsm.WithOnEnter(actions.EnterAbort),
		).
		State(StateAuto,
			librefsm.WithOnEnter(actions.EnterAuto),
		).
		State(StateAuto2).
		State(StateAutoStop).
		State(StateManual,
			librefsm.WithOnEnter(actions.EnterManual),
		).

		// Init passes straight through to Manual
		Transition(StateInit, EvBootstrap, StateManual).

		// Cycle start / finish-then-stop
		Transition(StateManual, EvStartPressed, StateAuto).
		Transition(StateAuto, EvStartReleased, StateAutoStop,
			librefsm.WithAction(actions.OnStartReleased),
		).
		Transition(StateAutoStop, EvCycleFinished, StateManual).

		// Leaving abort requires the E-stop to be clear
		Transition(StateAbort, EvAbortReleased, StateManual,
			librefsm.WithGuard(actions.IsEStopClear),
		)

	for _, from := range abortable {
		def = def.
			Transition(from, EvAbortPressed, StateAbort).
			Transition(from, EvEmergencyStop, StateAbort)
	}

	return def.Initial(StateInit)
}
