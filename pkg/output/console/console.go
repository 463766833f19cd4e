package console

import (
	"fmt"
	"time"

	"github.com/ericogr/max31855-to-mqtt/pkg/output"
	"github.com/ericogr/max31855-to-mqtt/pkg/sensor"
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

func (c *ConsoleOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		sym := r.Unit.Symbol()
		tc := fmt.Sprintf("%.2f%s", r.Value, sym)
		switch {
		case r.Quarantined:
			tc = "quarantined: " + r.Fault.String()
		case !r.OK():
			tc = "error: " + r.Fault.String()
		}
		fmt.Printf("%s tick=%d channel=%d cs=%d tc=%s rj=%.4f%s\n",
			r.Timestamp.Format(time.RFC3339), r.Tick, r.Channel, r.CS, tc, r.RefJunction, sym)
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
