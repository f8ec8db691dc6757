// Package config loads daemon configuration from a YAML file, environment
// variables (VIVARIUM_ prefix) and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/sweeney/vivarium/internal/gpio"
	"github.com/sweeney/vivarium/internal/influx"
	"github.com/sweeney/vivarium/internal/logic"
	"github.com/sweeney/vivarium/internal/retention"
	"github.com/sweeney/vivarium/internal/sensor"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// EnvPrefix is prepended to environment variable overrides, e.g.
// VIVARIUM_MQTT_BROKER.
const EnvPrefix = "vivarium"

// Sensor and thermostat source names.
const (
	SourceOneWire   = "onewire"
	SourceSimulated = "simulated"
	SourceSensor    = "sensor"
	SourceInflux    = "influx"
)

// Config is the complete daemon configuration.
type Config struct {
	LogLevel    string             `mapstructure:"log_level"`
	HTTPAddr    string             `mapstructure:"http_addr"`
	GPIO        GPIOConfig         `mapstructure:"gpio"`
	Devices     map[string]int     `mapstructure:"devices"`
	TimeWindows []TimeWindowConfig `mapstructure:"time_windows"`
	ThermoZones []ThermoZoneConfig `mapstructure:"thermo_zones"`
	Intervals   IntervalConfig     `mapstructure:"intervals"`
	Sensors     SensorConfig       `mapstructure:"sensors"`
	Thermostat  ThermostatConfig   `mapstructure:"thermostat"`
	Retention   RetentionConfig    `mapstructure:"retention"`
	Telemetry   TelemetryConfig    `mapstructure:"telemetry"`
	Influx      InfluxConfig       `mapstructure:"influx"`
	MQTT        MQTTConfig         `mapstructure:"mqtt"`
	History     HistoryConfig      `mapstructure:"history"`
}

// GPIOConfig selects the relay output driver.
type GPIOConfig struct {
	Chip      string        `mapstructure:"chip"`
	ActiveLow bool          `mapstructure:"active_low"`
	Settle    time.Duration `mapstructure:"settle"`
	Simulate  bool          `mapstructure:"simulate"`
}

// TimeWindowConfig is a logic.TimeWindow in configuration form.
type TimeWindowConfig struct {
	Name    string   `mapstructure:"name"`
	Start   int      `mapstructure:"start"`
	End     int      `mapstructure:"end"`
	Devices []string `mapstructure:"devices"`
}

// ThermoZoneConfig is a logic.ThermoZone in configuration form.
type ThermoZoneConfig struct {
	Name    string   `mapstructure:"name"`
	Target  float64  `mapstructure:"target"`
	Devices []string `mapstructure:"devices"`
}

// IntervalConfig holds the task periods.
type IntervalConfig struct {
	Tick      time.Duration `mapstructure:"tick"`
	Sensors   time.Duration `mapstructure:"sensors"`
	Relays    time.Duration `mapstructure:"relays"`
	Files     time.Duration `mapstructure:"files"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// SensorConfig selects where readings come from.
type SensorConfig struct {
	Source     string `mapstructure:"source"`
	OneWireDir string `mapstructure:"onewire_dir"`
	DHTIDs     []int  `mapstructure:"dht_ids"`
}

// ThermostatConfig selects the thermostat feedback temperature source.
type ThermostatConfig struct {
	Source   string        `mapstructure:"source"`
	Lookback time.Duration `mapstructure:"lookback"`
}

// RetentionConfig is the video retention policy and location.
type RetentionConfig struct {
	Dir        string        `mapstructure:"dir"`
	Pattern    string        `mapstructure:"pattern"`
	MinHour    int           `mapstructure:"min_hour"`
	MaxHour    int           `mapstructure:"max_hour"`
	MaxSize    int64         `mapstructure:"max_size"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	SizeWindow time.Duration `mapstructure:"size_window"`
}

// TelemetryConfig names the measurement written by every sink.
type TelemetryConfig struct {
	Measurement string        `mapstructure:"measurement"`
	Run         string        `mapstructure:"run"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// InfluxConfig locates the InfluxDB bucket. Empty URL disables the sink.
type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

// MQTTConfig locates the broker. Empty Broker disables MQTT.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
}

// HistoryConfig locates the local journal. Empty Path disables it.
type HistoryConfig struct {
	Path string        `mapstructure:"path"`
	Keep time.Duration `mapstructure:"keep"`
}

// Load reads configuration from path on the OS filesystem. An empty path
// uses defaults and environment only.
func Load(path string) (Config, error) {
	return LoadFs(afero.NewOsFs(), path)
}

// LoadFs is Load on an arbitrary filesystem.
func LoadFs(fs afero.Fs, path string) (Config, error) {
	v := viper.New()
	v.SetFs(fs)
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	// Collections replace the defaults wholesale rather than merging with them.
	if !v.IsSet("devices") {
		cfg.Devices = defaultDevices()
	}
	if !v.IsSet("time_windows") {
		cfg.TimeWindows = defaultTimeWindows()
	}
	if !v.IsSet("thermo_zones") {
		cfg.ThermoZones = defaultThermoZones()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	cfg, err := LoadFs(afero.NewMemMapFs(), "")
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")

	v.SetDefault("gpio.chip", gpio.DefaultChip)
	v.SetDefault("gpio.active_low", true)
	v.SetDefault("gpio.settle", 100*time.Millisecond)
	v.SetDefault("gpio.simulate", false)

	v.SetDefault("intervals.tick", 100*time.Millisecond)
	v.SetDefault("intervals.sensors", 10*time.Second)
	v.SetDefault("intervals.relays", 30*time.Second)
	v.SetDefault("intervals.files", time.Hour)
	v.SetDefault("intervals.heartbeat", 15*time.Minute)

	v.SetDefault("sensors.source", SourceOneWire)
	v.SetDefault("sensors.onewire_dir", sensor.DefaultOneWireDir)
	v.SetDefault("sensors.dht_ids", []int{1, 2, 4})

	v.SetDefault("thermostat.source", SourceSensor)
	v.SetDefault("thermostat.lookback", influx.DefaultLookback)

	v.SetDefault("retention.dir", "/var/www/html/Mobius_Website/images")
	v.SetDefault("retention.pattern", retention.DefaultPattern)
	v.SetDefault("retention.min_hour", 6)
	v.SetDefault("retention.max_hour", 20)
	v.SetDefault("retention.max_size", 3_000_000)
	v.SetDefault("retention.max_age", 14*24*time.Hour)
	v.SetDefault("retention.size_window", 24*time.Hour)

	v.SetDefault("telemetry.measurement", "vivarium")
	v.SetDefault("telemetry.run", "v1")
	v.SetDefault("telemetry.timeout", 5*time.Second)

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "vivarium")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "vivarium")

	v.SetDefault("history.path", "")
	v.SetDefault("history.keep", 7*24*time.Hour)
}

func defaultDevices() map[string]int {
	out := make(map[string]int, len(gpio.DefaultPins))
	for name, pin := range gpio.DefaultPins {
		out[name] = pin
	}
	return out
}

func defaultTimeWindows() []TimeWindowConfig {
	return []TimeWindowConfig{
		{Name: "daylight", Start: 6, End: 21, Devices: []string{"led_lights"}},
		{Name: "sunny", Start: 8, End: 20, Devices: []string{"lamp"}},
		{Name: "rains", Start: 1, End: 23, Devices: []string{"fountain"}},
	}
}

func defaultThermoZones() []ThermoZoneConfig {
	return []ThermoZoneConfig{
		{Name: "main", Target: 34, Devices: []string{"heatpad_backwall", "heatpad_underlog"}},
	}
}

// Windows converts the configured time windows to rules.
func (c Config) Windows() []logic.TimeWindow {
	out := make([]logic.TimeWindow, 0, len(c.TimeWindows))
	for _, w := range c.TimeWindows {
		out = append(out, logic.TimeWindow{Name: w.Name, Start: w.Start, End: w.End, Devices: w.Devices})
	}
	return out
}

// Zones converts the configured thermostat zones to rules.
func (c Config) Zones() []logic.ThermoZone {
	out := make([]logic.ThermoZone, 0, len(c.ThermoZones))
	for _, z := range c.ThermoZones {
		out = append(out, logic.ThermoZone{Name: z.Name, Target: z.Target, Devices: z.Devices})
	}
	return out
}

// Policy returns the retention thresholds.
func (r RetentionConfig) Policy() retention.Policy {
	return retention.Policy{MinHour: r.MinHour, MaxHour: r.MaxHour, MaxSize: r.MaxSize, MaxAge: r.MaxAge}
}

// Client returns the InfluxDB connection settings.
func (i InfluxConfig) Client() influx.Config {
	return influx.Config{URL: i.URL, Token: i.Token, Org: i.Org, Bucket: i.Bucket}
}
