package sensor

// FakeSource is a test double returning scripted readings.
type FakeSource struct {
	Temperature float64
	TempError   error

	// DHT maps sensor id to its (humidity, temperature) pair.
	DHT      map[int][2]float64
	DHTError map[int]error

	// TempReads counts calls to ReadTemperature.
	TempReads int
}

// NewFakeSource creates a FakeSource returning temp.
func NewFakeSource(temp float64) *FakeSource {
	return &FakeSource{Temperature: temp, DHT: make(map[int][2]float64)}
}

// ReadTemperature returns the scripted temperature or error.
func (f *FakeSource) ReadTemperature() (float64, error) {
	f.TempReads++
	if f.TempError != nil {
		return 0, f.TempError
	}
	return f.Temperature, nil
}

// ReadHumidityTemperature returns the scripted pair for id.
func (f *FakeSource) ReadHumidityTemperature(id int) (float64, float64, error) {
	if err := f.DHTError[id]; err != nil {
		return 0, 0, err
	}
	v, ok := f.DHT[id]
	if !ok {
		return 0, 0, ErrNotSupported
	}
	return v[0], v[1], nil
}
