package hardware

import "molder/internal/types"

const (
	DefaultChip = "gpiochip0"
	Consumer    = "molder"
)

// InputLine describes a digital input. ActiveLow inputs read true when the
// line is pulled low (pull-up buttons).
type InputLine struct {
	Line      int  `mapstructure:"line"`
	ActiveLow bool `mapstructure:"active_low"`
}

// Mapping assigns channels to GPIO line offsets on one chip.
type Mapping struct {
	Chip    string               `mapstructure:"chip"`
	Outputs map[string]int       `mapstructure:"outputs"`
	Inputs  map[string]InputLine `mapstructure:"inputs"`
}

// DefaultMapping is the BCM wiring of the Raspberry Pi controller board.
func DefaultMapping() Mapping {
	return Mapping{
		Chip: DefaultChip,
		Outputs: map[string]int{
			types.OutputMoldClose: 6,
			types.OutputInject:    13,
			types.OutputHeater:    19,
			types.OutputEject:     5,
			types.OutputEStop:     20,
		},
		Inputs: map[string]InputLine{
			types.InputEStop:      {Line: 21, ActiveLow: true},
			types.InputPartDetect: {Line: 16, ActiveLow: false}, // switch opens when a part drops
			types.InputPowerLoss:  {Line: 26, ActiveLow: true},
		},
	}
}
