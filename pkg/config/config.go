package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	SensorReal       = "real"
	SensorSimulation = "simulation"

	PolicyHalt       = "halt"
	PolicyQuarantine = "quarantine"
)

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	StateTopic        string `json:"state_topic" yaml:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic" yaml:"discovery_topic"`
	DiscoveryName     string `json:"discovery_name" yaml:"discovery_name"`
	DiscoveryUniqueID string `json:"discovery_unique_id" yaml:"discovery_unique_id"`
}

type PrometheusConfig struct {
	ListenAddress string `json:"listen_address" yaml:"listen_address"`
}

type SerialConfig struct {
	Port     string `json:"port" yaml:"port"`
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
}

type OutputConfig struct {
	Type       string            `json:"type" yaml:"type"`
	IntervalMs int               `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	MQTT       *MQTTConfig       `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
	Prometheus *PrometheusConfig `json:"prometheus,omitempty" yaml:"prometheus,omitempty"`
	Serial     *SerialConfig     `json:"serial,omitempty" yaml:"serial,omitempty"`
}

type PlotConfig struct {
	Path   string `json:"path" yaml:"path"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
}

type Config struct {
	ClockPin       int            `json:"clock_pin" yaml:"clock_pin"`
	DataPin        int            `json:"data_pin" yaml:"data_pin"`
	ChipSelectPins []int          `json:"chip_select_pins" yaml:"chip_select_pins"`
	Units          string         `json:"units" yaml:"units"`
	IntervalMs     int            `json:"interval_ms" yaml:"interval_ms"`
	MaxTicks       int            `json:"max_ticks" yaml:"max_ticks"`
	FaultPolicy    string         `json:"fault_policy" yaml:"fault_policy"`
	SensorType     string         `json:"sensor_type" yaml:"sensor_type"`
	LogLevel       string         `json:"log_level" yaml:"log_level"`
	Outputs        []OutputConfig `json:"outputs" yaml:"outputs"`
	Plot           PlotConfig     `json:"plot" yaml:"plot"`
}

// DefaultConfig is the four chip board: chips on GPIO 4, 17, 18 and 24
// sharing clock 23 and data 22, sampled once a second for 101 ticks.
func DefaultConfig() Config {
	return Config{
		ClockPin:       23,
		DataPin:        22,
		ChipSelectPins: []int{4, 17, 18, 24},
		Units:          "c",
		IntervalMs:     1000,
		MaxTicks:       101,
		FaultPolicy:    PolicyHalt,
		SensorType:     SensorReal,
		LogLevel:       "info",
		Outputs:        []OutputConfig{{Type: "console", IntervalMs: 1000}},
		Plot:           PlotConfig{Width: 800, Height: 480},
	}
}

// ReadFile merges a JSON or YAML file (chosen by extension) over cfg.
func ReadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Load loads configuration from a config file (optional) and flags.
// Flags override values present in the file.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("max31855-to-mqtt", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagClock := fs.Int("clock-pin", -1, "Shared clock GPIO")
	flagData := fs.Int("data-pin", -1, "Shared data GPIO")
	flagCS := fs.String("cs-pins", "", "Comma-separated chip-select GPIOs e.g. 4,17,18,24")
	flagUnits := fs.String("units", "", "Units: c|k|f")
	flagInterval := fs.Int("interval-ms", -1, "Sampling interval in ms")
	flagMaxTicks := fs.Int("max-ticks", -1, "Number of ticks to sample (0 = run until interrupted)")
	flagPolicy := fs.String("fault-policy", "", "On sensor fault: halt|quarantine")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagLogLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt,prometheus,serial)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic, %d is replaced by the channel")
	flagPromAddr := fs.String("prometheus-listen", "", "Prometheus listen address e.g. :9100")
	flagSerialPort := fs.String("serial-port", "", "Serial output port e.g. /dev/ttyUSB0")
	flagPlot := fs.String("plot", "", "Write a PNG plot of the session to this path")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		if err := ReadFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if *flagClock != -1 {
		cfg.ClockPin = *flagClock
	}
	if *flagData != -1 {
		cfg.DataPin = *flagData
	}
	if *flagCS != "" {
		pins, err := parseInts(*flagCS)
		if err != nil {
			return cfg, fmt.Errorf("cs-pins: %w", err)
		}
		cfg.ChipSelectPins = pins
	}
	if *flagUnits != "" {
		cfg.Units = *flagUnits
	}
	if *flagInterval != -1 {
		cfg.IntervalMs = *flagInterval
	}
	if *flagMaxTicks != -1 {
		cfg.MaxTicks = *flagMaxTicks
	}
	if *flagPolicy != "" {
		cfg.FaultPolicy = *flagPolicy
	}
	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}
	if *flagOutputs != "" {
		parts := parseCSV(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p), IntervalMs: cfg.IntervalMs})
		}
		cfg.Outputs = outs
	}
	if *flagOutputIntervals != "" {
		intervals, err := parseKeyIntMap(*flagOutputIntervals)
		if err != nil {
			return cfg, fmt.Errorf("output-intervals: %w", err)
		}
		for i := range cfg.Outputs {
			if v, ok := intervals[cfg.Outputs[i].Type]; ok {
				cfg.Outputs[i].IntervalMs = v
			}
		}
	}
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" {
		out := cfg.output("mqtt")
		if out.MQTT == nil {
			out.MQTT = &MQTTConfig{}
		}
		setString(&out.MQTT.Server, *flagMQTTServer)
		setString(&out.MQTT.Username, *flagMQTTUser)
		setString(&out.MQTT.Password, *flagMQTTPass)
		setString(&out.MQTT.ClientID, *flagClientID)
		setString(&out.MQTT.StateTopic, *flagTopic)
	}
	if *flagPromAddr != "" {
		out := cfg.output("prometheus")
		out.Prometheus = &PrometheusConfig{ListenAddress: *flagPromAddr}
	}
	if *flagSerialPort != "" {
		out := cfg.output("serial")
		if out.Serial == nil {
			out.Serial = &SerialConfig{}
		}
		out.Serial.Port = *flagSerialPort
	}
	if *flagPlot != "" {
		cfg.Plot.Path = *flagPlot
	}

	cfg.ensureDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// output returns the first output of type t, appending one if missing.
func (c *Config) output(t string) *OutputConfig {
	for i := range c.Outputs {
		if strings.ToLower(c.Outputs[i].Type) == t {
			return &c.Outputs[i]
		}
	}
	c.Outputs = append(c.Outputs, OutputConfig{Type: t, IntervalMs: c.IntervalMs})
	return &c.Outputs[len(c.Outputs)-1]
}

func (c *Config) ensureDefaults() {
	def := DefaultConfig()
	if c.Units == "" {
		c.Units = def.Units
	}
	if c.FaultPolicy == "" {
		c.FaultPolicy = def.FaultPolicy
	}
	if c.SensorType == "" {
		c.SensorType = def.SensorType
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Plot.Width == 0 {
		c.Plot.Width = def.Plot.Width
	}
	if c.Plot.Height == 0 {
		c.Plot.Height = def.Plot.Height
	}
	for i := range c.Outputs {
		c.Outputs[i].Type = strings.ToLower(c.Outputs[i].Type)
		if c.Outputs[i].IntervalMs == 0 {
			c.Outputs[i].IntervalMs = c.IntervalMs
		}
	}
}

// Validate checks the pin map and enumerated settings.
func (c Config) Validate() error {
	if len(c.ChipSelectPins) == 0 {
		return errors.New("at least one chip-select pin is required")
	}
	if c.ClockPin == c.DataPin {
		return fmt.Errorf("clock and data pins must differ (both %d)", c.ClockPin)
	}
	seen := make(map[int]bool, len(c.ChipSelectPins))
	for _, cs := range c.ChipSelectPins {
		if cs == c.ClockPin || cs == c.DataPin {
			return fmt.Errorf("chip-select pin %d collides with clock/data", cs)
		}
		if seen[cs] {
			return fmt.Errorf("duplicate chip-select pin %d", cs)
		}
		seen[cs] = true
	}
	switch strings.ToLower(c.Units) {
	case "c", "k", "f", "celsius", "kelvin", "fahrenheit":
	default:
		return fmt.Errorf("invalid units %q", c.Units)
	}
	switch c.FaultPolicy {
	case PolicyHalt, PolicyQuarantine:
	default:
		return fmt.Errorf("invalid fault-policy %q", c.FaultPolicy)
	}
	switch c.SensorType {
	case SensorReal, SensorSimulation:
	default:
		return fmt.Errorf("invalid sensor-type %q", c.SensorType)
	}
	if c.IntervalMs < 0 {
		return errors.New("interval-ms must be >= 0")
	}
	if c.MaxTicks < 0 {
		return errors.New("max-ticks must be >= 0")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseInts(s string) ([]int, error) {
	parts := parseCSV(s)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pin '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseKeyIntMap(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid entry '%s'", p)
		}
		v, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid value in '%s': %w", p, err)
		}
		out[strings.ToLower(strings.TrimSpace(kv[0]))] = v
	}
	return out, nil
}
