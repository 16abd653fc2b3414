package types

// Mode is the outer operating regime of the molder.
type Mode string

const (
	ModeInit     Mode = "init"
	ModeAbort    Mode = "abort"
	ModeAuto     Mode = "auto"
	ModeAuto2    Mode = "auto2" // reserved two-shot mode, no behavior yet
	ModeAutoStop Mode = "auto-stop"
	ModeManual   Mode = "manual"
)

// Modes lists every legal Mode.
var Modes = []Mode{ModeInit, ModeAbort, ModeAuto, ModeAuto2, ModeAutoStop, ModeManual}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	for _, v := range Modes {
		if m == v {
			return true
		}
	}
	return false
}

// Index returns the position of m in Modes, or -1.
func (m Mode) Index() int {
	for i, v := range Modes {
		if m == v {
			return i
		}
	}
	return -1
}

// CycleState is the phase of the molding cycle. It only advances while the
// mode is Auto or AutoStop.
type CycleState string

const (
	StateIdle    CycleState = "idle"
	StateClose   CycleState = "close"
	StateInject  CycleState = "inject" // reserved, Close covers clamp and injection
	StateCool    CycleState = "cool"
	StateOpen    CycleState = "open"
	StateEject   CycleState = "eject"
	StateInject2 CycleState = "inject2" // reserved
	StateCool2   CycleState = "cool2"   // reserved
	StateDetect  CycleState = "detect"
)

// CycleStates lists every CycleState in sequence order.
var CycleStates = []CycleState{
	StateIdle, StateClose, StateInject, StateCool, StateOpen,
	StateEject, StateInject2, StateCool2, StateDetect,
}

// Index returns the position of s in CycleStates, or -1.
func (s CycleState) Index() int {
	for i, v := range CycleStates {
		if s == v {
			return i
		}
	}
	return -1
}

// Timed reports whether the cycle timer accumulates while in s.
func (s CycleState) Timed() bool {
	switch s {
	case StateClose, StateInject, StateCool, StateEject, StateOpen, StateInject2, StateCool2:
		return true
	}
	return false
}
