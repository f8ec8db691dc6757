// Command vivarium drives the vivarium relays from time windows and a
// thermostat, logs sensor readings, and prunes the motion-capture videos.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/sweeney/vivarium/internal/config"
	"github.com/sweeney/vivarium/internal/gpio"
	"github.com/sweeney/vivarium/internal/history"
	"github.com/sweeney/vivarium/internal/influx"
	"github.com/sweeney/vivarium/internal/logger"
	"github.com/sweeney/vivarium/internal/logic"
	"github.com/sweeney/vivarium/internal/metrics"
	"github.com/sweeney/vivarium/internal/mqtt"
	"github.com/sweeney/vivarium/internal/relay"
	"github.com/sweeney/vivarium/internal/retention"
	"github.com/sweeney/vivarium/internal/sensor"
	"github.com/sweeney/vivarium/internal/status"
	"github.com/sweeney/vivarium/internal/telemetry"
	"github.com/sweeney/vivarium/internal/web"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (empty for defaults)")
	debug := flag.Bool("debug", false, "Log at debug level")
	simulate := flag.Bool("simulate", false, "Log relay writes instead of driving GPIO, and simulate sensors")
	printState := flag.Bool("print-state", false, "Print sensor readings and planned relay states, then exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = logger.DebugLevel
	}
	if *simulate {
		cfg.GPIO.Simulate = true
		cfg.Sensors.Source = config.SourceSimulated
		cfg.Thermostat.Source = config.SourceSensor
	}

	log := logger.New(cfg.LogLevel)
	for _, ref := range cfg.UnknownDevices() {
		log.Warnw("rule names a device with no configured pin", "ref", ref)
	}

	if *printState {
		err = printPlan(os.Stdout, cfg, time.Now())
	} else {
		err = run(cfg, log)
	}
	if err != nil {
		log.Errorw("fatal", "err", err)
		log.Sync()
		os.Exit(1)
	}
	log.Sync()
}

func run(cfg config.Config, log *zap.SugaredLogger) error {
	sensors, thermo, err := sources(cfg)
	if err != nil {
		return err
	}

	driver, err := outputDriver(cfg, log)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer driver.Close()

	m := metrics.New()
	sinks := telemetry.NewMulti(cfg.Telemetry.Timeout, telemetry.Named{Name: "metrics", Sink: m})

	if cfg.Influx.URL != "" {
		sinks.Add("influx", influx.NewSink(cfg.Influx.Client()))
	}

	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, log)
		if err != nil {
			log.Warnw("mqtt disabled", "broker", cfg.MQTT.Broker, "err", err)
		} else {
			defer p.Close()
			publisher, mqttStatus = p, p
			sinks.Add("mqtt", p)
		}
	}

	var journal *history.Journal
	if cfg.History.Path != "" {
		db, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		journal = history.NewJournal(db)
		sinks.Add("history", journal)
	}

	emit := telemetry.NewEmitter(sinks, cfg.Telemetry.Measurement, cfg.Telemetry.Run, log)
	ctrl := relay.NewController(cfg.Devices, driver, emit, cfg.GPIO.Settle, log)
	cleaner := retention.NewCleaner(afero.NewOsFs(), cfg.Retention.Dir, cfg.Retention.Pattern, log)

	start := time.Now()
	tracker := status.NewTracker(start, status.Config{
		SensorEvery: cfg.Intervals.Sensors,
		RelayEvery:  cfg.Intervals.Relays,
		FileEvery:   cfg.Intervals.Files,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTPAddr,
		VideoDir:    cfg.Retention.Dir,
	})

	d := &daemon{
		cfg:        cfg,
		windows:    cfg.Windows(),
		zones:      cfg.Zones(),
		sensors:    sensors,
		thermo:     thermo,
		ctrl:       ctrl,
		emit:       emit,
		cleaner:    cleaner,
		metrics:    m,
		tracker:    tracker,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		log:        log,
	}
	if journal != nil {
		d.journal = journal
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctrl.Init(ctx); err != nil {
		return fmt.Errorf("switch outputs off: %w", err)
	}
	tracker.SetDevices(ctrl.States(), logic.Unavailable, start)
	d.startup(start)

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, m.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("http server error", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Infow("http status server listening", "addr", cfg.HTTPAddr)
	}

	log.Infow("started",
		"devices", len(cfg.Devices),
		"sensors", cfg.Intervals.Sensors,
		"relays", cfg.Intervals.Relays,
		"files", cfg.Intervals.Files,
		"simulate", cfg.GPIO.Simulate,
	)

	ticker := time.NewTicker(cfg.Intervals.Tick)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctx, d, d.scheduler(start), time.Now, ticker.C, sigCh)
}

// sources returns the sensor source for logging and the source of the
// thermostat feedback temperature.
func sources(cfg config.Config) (sensors, thermo sensor.Source, err error) {
	switch cfg.Sensors.Source {
	case config.SourceSimulated:
		sensors = sensor.NewSimulated()
	default:
		ow, err := sensor.NewOneWire(cfg.Sensors.OneWireDir)
		if err != nil {
			return nil, nil, fmt.Errorf("init one-wire: %w", err)
		}
		sensors = ow
	}

	switch cfg.Thermostat.Source {
	case config.SourceInflux:
		thermo = influx.NewTemperatureSource(cfg.Influx.Client(), cfg.Telemetry.Measurement, cfg.Thermostat.Lookback, cfg.Telemetry.Timeout)
	default:
		thermo = sensors
	}
	return sensors, thermo, nil
}

func outputDriver(cfg config.Config, log *zap.SugaredLogger) (gpio.Writer, error) {
	if cfg.GPIO.Simulate {
		return gpio.NewDryRunWriter(log), nil
	}
	pins := make([]int, 0, len(cfg.Devices))
	for _, pin := range cfg.Devices {
		pins = append(pins, pin)
	}
	slices.Sort(pins)
	return gpio.NewRealWriter(cfg.GPIO.Chip, pins, cfg.GPIO.ActiveLow)
}

// printPlan reads the sensors once and prints what a reconciliation at now
// would command, without touching any output.
func printPlan(w io.Writer, cfg config.Config, now time.Time) error {
	sensors, thermo, err := sources(cfg)
	if err != nil {
		return err
	}

	readings, err := sensor.Collect(sensors, cfg.Sensors.DHTIDs)
	if err != nil {
		fmt.Fprintf(w, "sensor errors: %v\n", err)
	}
	for _, name := range sortedKeys(map[string]float64(readings)) {
		fmt.Fprintf(w, "%s: %.2f\n", name, readings[name])
	}

	temp, err := thermo.ReadTemperature()
	if err != nil {
		fmt.Fprintf(w, "thermostat: unavailable (%v)\n", err)
		temp = logic.Unavailable
	} else {
		fmt.Fprintf(w, "thermostat: %.2f\n", temp)
	}

	final := logic.Final(logic.Plan(now, temp, cfg.Windows(), cfg.Zones()))
	for _, name := range sortedKeys(cfg.Devices) {
		fmt.Fprintf(w, "%s: %s\n", name, logic.StateOf(final[name]))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
