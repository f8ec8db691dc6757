// Package sensor reads temperature and humidity sensors.
package sensor

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSupported is returned by a source that has no sensor of the requested kind.
	ErrNotSupported = errors.New("sensor: not supported")

	// ErrNotReady is returned when a one-wire device never reports a valid CRC.
	ErrNotReady = errors.New("sensor: device not ready")
)

// Source reads sensors. A returned error means the value is unavailable.
type Source interface {
	// ReadTemperature returns the thermostat feedback temperature in °C.
	ReadTemperature() (float64, error)

	// ReadHumidityTemperature returns (humidity %, temperature °C) for a DHT sensor.
	ReadHumidityTemperature(id int) (float64, float64, error)
}

// Plausibility limits for DHT readings. Humidity can read above 100 on a
// DHT11, and temperatures at or below 12 °C only occur on a failed read.
const (
	MinHumidity    = 35.0
	MaxHumidity    = 100.0
	MinTemperature = 12.0
)

// TemperatureField is the field name of the thermostat feedback temperature.
const TemperatureField = "Water_Temp"

// Readings holds one cycle of sensor values keyed by field name.
type Readings map[string]float64

// HumidityField is the field name for a DHT humidity reading.
func HumidityField(id int) string { return fmt.Sprintf("DHT%d_Hum", id) }

// TemperatureFieldFor is the field name for a DHT temperature reading.
func TemperatureFieldFor(id int) string { return fmt.Sprintf("DHT%d_Temp", id) }

// Collect reads the feedback temperature and every listed DHT sensor.
// Values outside the plausible range are dropped rather than reported.
// A source without DHT sensors is not an error. The returned error joins
// every other read failure; Readings is still usable.
func Collect(src Source, dhtIDs []int) (Readings, error) {
	r := make(Readings)
	var errs []error

	temp, err := src.ReadTemperature()
	if err != nil {
		errs = append(errs, fmt.Errorf("read %s: %w", TemperatureField, err))
	} else {
		r[TemperatureField] = temp
	}

	for _, id := range dhtIDs {
		hum, t, err := src.ReadHumidityTemperature(id)
		if errors.Is(err, ErrNotSupported) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("read DHT%d: %w", id, err))
			continue
		}
		if hum >= MinHumidity && hum < MaxHumidity {
			r[HumidityField(id)] = hum
		}
		if t > MinTemperature {
			r[TemperatureFieldFor(id)] = t
		}
	}

	return r, errors.Join(errs...)
}
