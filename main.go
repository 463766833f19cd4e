package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ericogr/max31855-to-mqtt/pkg/config"
	"github.com/ericogr/max31855-to-mqtt/pkg/loop"
	"github.com/ericogr/max31855-to-mqtt/pkg/output"
	"github.com/ericogr/max31855-to-mqtt/pkg/output/console"
	"github.com/ericogr/max31855-to-mqtt/pkg/output/mqtt"
	"github.com/ericogr/max31855-to-mqtt/pkg/output/prometheus"
	"github.com/ericogr/max31855-to-mqtt/pkg/output/serial"
	"github.com/ericogr/max31855-to-mqtt/pkg/plot"
	"github.com/ericogr/max31855-to-mqtt/pkg/sensor"
	"github.com/ericogr/max31855-to-mqtt/pkg/series"
)

func init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func main() {
	os.Exit(runMain(os.Args[1:]))
}

// runMain loads the configuration, runs one session until it ends or a
// signal arrives, and returns the exit code.
func runMain(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		return 2
	}
	setLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg)
}

func setLogLevel(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithError(err).Warn("unknown log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// run drives one sampling session and returns the process exit code.
func run(ctx context.Context, cfg config.Config) int {
	unit, err := sensor.ParseUnit(cfg.Units)
	if err != nil {
		log.WithError(err).Error("invalid units")
		return 1
	}

	entries, err := initOutputs(&cfg, unit)
	if err != nil {
		log.WithError(err).Error("init outputs")
		return 1
	}
	fanout := output.NewFanout(entries...)
	defer func() {
		if err := fanout.Close(); err != nil {
			log.WithError(err).Warn("closing outputs")
		}
	}()

	s, err := sensor.NewMAX31855Sensor(cfg)
	if err != nil {
		log.WithError(err).Error("init sensor")
		return 1
	}

	buf := series.New(cfg.ChipSelectPins)
	ctrl := loop.New(s, buf, fanout, loop.Options{
		Interval: time.Duration(cfg.IntervalMs) * time.Millisecond,
		MaxTicks: cfg.MaxTicks,
	})
	log.WithFields(log.Fields{
		"cs":       cfg.ChipSelectPins,
		"clock":    cfg.ClockPin,
		"data":     cfg.DataPin,
		"interval": cfg.IntervalMs,
		"ticks":    cfg.MaxTicks,
		"policy":   cfg.FaultPolicy,
	}).Info("session starting")
	res := ctrl.Run(ctx)

	if cfg.Plot.Path != "" {
		opts := plot.Options{Width: cfg.Plot.Width, Height: cfg.Plot.Height, Unit: unit}
		if err := plot.WriteFile(cfg.Plot.Path, buf, opts); err != nil {
			log.WithError(err).Error("write plot")
		} else {
			log.WithField("path", cfg.Plot.Path).Info("plot written")
		}
	}

	switch res.Reason {
	case loop.Aborted, loop.FaultHalt:
		log.WithError(res.Err).WithField("result", res.String()).Error("session failed")
		return 1
	}
	return 0
}

// initOutputs builds the configured outputs; each output's interval becomes a
// number of ticks of the sampling interval.
func initOutputs(cfg *config.Config, unit sensor.Unit) ([]output.Entry, error) {
	entries := make([]output.Entry, 0, len(cfg.Outputs))
	closeAll := func() {
		for _, e := range entries {
			e.Output.Close()
		}
	}
	for i := range cfg.Outputs {
		oc := &cfg.Outputs[i]
		if oc.IntervalMs <= 0 {
			oc.IntervalMs = cfg.IntervalMs
		}
		var (
			out output.Output
			err error
		)
		switch oc.Type {
		case "console":
			out = console.NewConsole()
		case "mqtt":
			var mc config.MQTTConfig
			if oc.MQTT != nil {
				mc = *oc.MQTT
			}
			out, err = mqtt.NewMQTT(mc, cfg.ChipSelectPins, unit)
		case "prometheus":
			var pc config.PrometheusConfig
			if oc.Prometheus != nil {
				pc = *oc.Prometheus
			}
			out, err = prometheus.NewPrometheus(pc)
		case "serial":
			var sc config.SerialConfig
			if oc.Serial != nil {
				sc = *oc.Serial
			}
			out, err = serial.NewSerial(sc)
		default:
			err = fmt.Errorf("unknown output type %q", oc.Type)
		}
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("output %s: %w", oc.Type, err)
		}
		entries = append(entries, output.Entry{
			Name:   oc.Type,
			Output: out,
			Every:  output.EveryTicks(oc.IntervalMs, cfg.IntervalMs),
		})
	}
	return entries, nil
}
