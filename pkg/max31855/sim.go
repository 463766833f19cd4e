package max31855

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"

	"github.com/ericogr/max31855-to-mqtt/pkg/pinio"
)

// FrameSource produces the next frame a simulated chip shifts out.
type FrameSource func() Frame

// Constant always yields f.
func Constant(f Frame) FrameSource {
	return func() Frame { return f }
}

// Sequence yields frames in order and then keeps repeating the last one.
func Sequence(frames ...Frame) FrameSource {
	var mu sync.Mutex
	i := 0
	return func() Frame {
		mu.Lock()
		defer mu.Unlock()
		if len(frames) == 0 {
			return 0
		}
		f := frames[i]
		if i < len(frames)-1 {
			i++
		}
		return f
	}
}

type simChip struct {
	src    FrameSource
	frame  Frame
	pos    int
	frames int
}

// SimBus emulates MAX31855 chips wired to shared clock and data lines. It
// implements pinio.PinIO so the whole bit-banged path can run without
// hardware.
type SimBus struct {
	mu     sync.Mutex
	clock  int
	data   int
	chips  map[int]*simChip
	dirs   map[int]pinio.Direction
	levels map[int]gpio.Level
	active *simChip
	lows   map[int]int
	// ReadErr, when set, is returned by every Read of the data line.
	ReadErr error
}

func NewSimBus(clock, data int) *SimBus {
	return &SimBus{
		clock:  clock,
		data:   data,
		chips:  make(map[int]*simChip),
		dirs:   make(map[int]pinio.Direction),
		levels: make(map[int]gpio.Level),
		lows:   make(map[int]int),
	}
}

// Attach wires a simulated chip to chip-select line cs.
func (s *SimBus) Attach(cs int, src FrameSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chips[cs] = &simChip{src: src, pos: -1}
}

// Frames reports how many complete chip-select cycles cs has seen.
func (s *SimBus) Frames(cs int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chips[cs]; ok {
		return c.frames
	}
	return 0
}

// Direction reports the last direction set on pin.
func (s *SimBus) Direction(pin int) pinio.Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[pin]
}

// FallingEdges reports how many high to low transitions pin has seen.
func (s *SimBus) FallingEdges(pin int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lows[pin]
}

// Level reports the last level driven on pin.
func (s *SimBus) Level(pin int) gpio.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin]
}

func (s *SimBus) SetDirection(pin int, dir pinio.Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[pin] = dir
	if dir == pinio.Output {
		s.levels[pin] = gpio.High
	}
	return nil
}

func (s *SimBus) Write(pin int, level gpio.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirs[pin] != pinio.Output {
		return fmt.Errorf("sim: write to pin %d not configured as output", pin)
	}
	prev := s.levels[pin]
	s.levels[pin] = level
	if prev == gpio.High && level == gpio.Low {
		s.lows[pin]++
	}

	if pin == s.clock {
		if s.active != nil && prev == gpio.Low && level == gpio.High {
			s.active.pos--
		}
		return nil
	}
	chip, ok := s.chips[pin]
	if !ok {
		return nil
	}
	switch {
	case level == gpio.Low && prev == gpio.High:
		if s.active != nil && s.active != chip {
			return fmt.Errorf("sim: bus contention, cs %d selected while another chip is active", pin)
		}
		chip.frame = chip.src()
		chip.pos = frameBits - 1
		s.active = chip
	case level == gpio.High && s.active == chip:
		chip.frames++
		chip.pos = -1
		s.active = nil
	}
	return nil
}

func (s *SimBus) Read(pin int) (gpio.Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pin != s.data {
		return s.levels[pin], nil
	}
	if s.ReadErr != nil {
		return gpio.Low, s.ReadErr
	}
	c := s.active
	if c == nil || c.pos < 0 {
		return gpio.Low, nil
	}
	return gpio.Level(c.frame>>uint(c.pos)&1 == 1), nil
}

var _ pinio.PinIO = (*SimBus)(nil)
