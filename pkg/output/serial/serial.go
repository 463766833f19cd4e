package serial

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/ericogr/max31855-to-mqtt/pkg/config"
	"github.com/ericogr/max31855-to-mqtt/pkg/sensor"
)

const DefaultBaudRate = 115200

var header = []string{"tick", "channel", "cs", "unit", "value", "reference_junction", "fault"}

// SerialOutput streams readings as CSV records over a serial line.
type SerialOutput struct {
	mu  sync.Mutex
	w   *csv.Writer
	dst io.Closer
}

// NewSerial opens cfg.Port, or the first port found when none is set.
func NewSerial(cfg config.SerialConfig) (*SerialOutput, error) {
	name := cfg.Port
	if name == "" {
		ports, err := serial.GetPortsList()
		if err != nil {
			return nil, errors.Wrap(err, "list serial ports")
		}
		if len(ports) == 0 {
			return nil, errors.New("no serial ports found")
		}
		name = ports[0]
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", name)
	}
	log.WithFields(log.Fields{"port": name, "baud": baud}).Info("streaming readings over serial")
	return newSerial(port)
}

func newSerial(dst io.WriteCloser) (*SerialOutput, error) {
	s := &SerialOutput{w: csv.NewWriter(dst), dst: dst}
	if err := s.write(header); err != nil {
		dst.Close()
		return nil, err
	}
	return s, nil
}

func (s *SerialOutput) write(records ...[]string) error {
	for _, rec := range records {
		if err := s.w.Write(rec); err != nil {
			return errors.Wrap(err, "serial write")
		}
	}
	s.w.Flush()
	return errors.Wrap(s.w.Error(), "serial write")
}

func record(r sensor.Reading) []string {
	value := ""
	fault := ""
	if r.OK() {
		value = strconv.FormatFloat(r.Value, 'f', 2, 64)
	} else {
		fault = r.Fault.String()
		if r.Quarantined {
			fault = fmt.Sprintf("quarantined: %s", fault)
		}
	}
	return []string{
		strconv.Itoa(r.Tick),
		strconv.Itoa(r.Channel),
		strconv.Itoa(r.CS),
		r.Unit.String(),
		value,
		strconv.FormatFloat(r.RefJunction, 'f', 4, 64),
		fault,
	}
}

func (s *SerialOutput) Publish(readings []sensor.Reading) error {
	records := make([][]string, 0, len(readings))
	for _, r := range readings {
		records = append(records, record(r))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(records...)
}

func (s *SerialOutput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dst == nil {
		return nil
	}
	err := s.dst.Close()
	s.dst = nil
	return err
}
