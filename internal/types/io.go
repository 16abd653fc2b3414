package types

// Digital output channels.
const (
	OutputMoldClose = "mold_close"
	OutputInject    = "inject"
	OutputEject     = "eject" // blow-off air cylinder
	OutputHeater    = "heater"
	OutputEStop     = "estop_out"
)

// Digital input channels.
const (
	InputEStop      = "e_stop"
	InputPartDetect = "part_detect"
	InputPowerLoss  = "power_loss"
)

// Outputs is the requested state of the actuator outputs driven by the
// cycle controller.
type Outputs struct {
	MoldClose bool `json:"mold_close"`
	Inject    bool `json:"inject"`
	Eject     bool `json:"eject"`
	Heater    bool `json:"heater"`
}

// Channels returns the outputs keyed by channel name.
func (o Outputs) Channels() map[string]bool {
	return map[string]bool{
		OutputMoldClose: o.MoldClose,
		OutputInject:    o.Inject,
		OutputEject:     o.Eject,
		OutputHeater:    o.Heater,
	}
}

// Any reports whether at least one output is asserted.
func (o Outputs) Any() bool {
	return o.MoldClose || o.Inject || o.Eject || o.Heater
}
