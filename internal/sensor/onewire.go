package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultOneWireDir is where the w1-therm kernel module exposes devices.
const DefaultOneWireDir = "/sys/bus/w1/devices"

// DS18B20 family devices are named 28-xxxxxxxxxxxx.
const oneWirePrefix = "28-"

// OneWire reads a DS18B20 temperature probe through sysfs.
// It has no DHT sensors.
type OneWire struct {
	path    string
	retries int
	wait    time.Duration
	sleep   func(time.Duration)
}

// NewOneWire locates the first DS18B20 under dir.
func NewOneWire(dir string) (*OneWire, error) {
	matches, err := filepath.Glob(filepath.Join(dir, oneWirePrefix+"*"))
	if err != nil {
		return nil, fmt.Errorf("glob one-wire devices: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no one-wire temperature device under %s", dir)
	}
	return &OneWire{
		path:    filepath.Join(matches[0], "w1_slave"),
		retries: 5,
		wait:    200 * time.Millisecond,
		sleep:   time.Sleep,
	}, nil
}

// Path returns the w1_slave file being read.
func (o *OneWire) Path() string { return o.path }

// ReadTemperature reads the probe, retrying while the CRC line is not "YES".
func (o *OneWire) ReadTemperature() (float64, error) {
	for attempt := 0; ; attempt++ {
		data, err := os.ReadFile(o.path)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", o.path, err)
		}
		temp, err := ParseW1Slave(string(data))
		if err == ErrNotReady && attempt < o.retries {
			o.sleep(o.wait)
			continue
		}
		return temp, err
	}
}

// ReadHumidityTemperature is not supported by a one-wire probe.
func (o *OneWire) ReadHumidityTemperature(id int) (float64, float64, error) {
	return 0, 0, ErrNotSupported
}

// ParseW1Slave parses w1_slave output:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func ParseW1Slave(data string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) < 2 || !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, ErrNotReady
	}
	i := strings.Index(lines[1], "t=")
	if i < 0 {
		return 0, fmt.Errorf("no t= field in %q", lines[1])
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][i+2:]))
	if err != nil {
		return 0, fmt.Errorf("parse t= field: %w", err)
	}
	return float64(milli) / 1000.0, nil
}
