package sensor

import "math/rand"

// Simulated produces plausible readings for hosts without sensors attached.
type Simulated struct {
	Temperature float64
	Humidity    float64
	Jitter      float64
}

// NewSimulated returns a source centred on 25 °C and 60 % humidity.
func NewSimulated() *Simulated {
	return &Simulated{Temperature: 25, Humidity: 60, Jitter: 2}
}

// ReadTemperature returns the centre temperature plus noise.
func (s *Simulated) ReadTemperature() (float64, error) {
	return s.Temperature + rand.NormFloat64()*s.Jitter, nil
}

// ReadHumidityTemperature returns the centre values plus noise.
func (s *Simulated) ReadHumidityTemperature(id int) (float64, float64, error) {
	return s.Humidity + rand.NormFloat64()*s.Jitter*2.5, s.Temperature + rand.NormFloat64()*s.Jitter, nil
}
