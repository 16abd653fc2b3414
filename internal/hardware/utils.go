package hardware

import (
	"fmt"
	"math"
	"os"
	"strings"
)

// ReadHwmonCelsius reads a hwmon style temperature file holding
// millidegrees Celsius.
func ReadHwmonCelsius(path string) (float64, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return math.NaN(), fmt.Errorf("temperature sysfs not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return math.NaN(), fmt.Errorf("failed reading %s: %w", path, err)
	}

	var milli int64
	_, err = fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &milli)
	if err != nil {
		return math.NaN(), fmt.Errorf("failed parsing temperature value: %w", err)
	}

	return float64(milli) / 1000, nil
}

// Thermometer reads the barrel temperature from a hwmon file.
type Thermometer struct {
	Path string
}

func (t Thermometer) ReadCelsius() (float64, error) {
	return ReadHwmonCelsius(t.Path)
}
