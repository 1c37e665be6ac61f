package recovery

import (
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// FakePin is a minimal in-memory gpio.PinIO double: it records every
// level driven to it and returns a fixed, settable level on Read.
// Exported so other packages can exercise a Controller without real
// hardware.
type FakePin struct {
	name      string
	History   []gpio.Level
	ReadsHigh bool
}

func NewFakePin(name string) *FakePin { return &FakePin{name: name} }

func (p *FakePin) String() string   { return p.name }
func (p *FakePin) Halt() error      { return nil }
func (p *FakePin) Name() string     { return p.name }
func (p *FakePin) Number() int      { return -1 }
func (p *FakePin) Function() string { return "" }

func (p *FakePin) In(pull gpio.Pull, edge gpio.Edge) error { return nil }
func (p *FakePin) Read() gpio.Level {
	if p.ReadsHigh {
		return gpio.High
	}
	return gpio.Low
}
func (p *FakePin) WaitForEdge(timeout time.Duration) bool { return false }
func (p *FakePin) Pull() gpio.Pull                        { return gpio.PullNoChange }

func (p *FakePin) Out(l gpio.Level) error {
	p.History = append(p.History, l)
	return nil
}
func (p *FakePin) PWM(duty gpio.Duty, freq physic.Frequency) error { return nil }

// LastLevel returns the most recent level driven to the pin, or Low if
// Out has never been called.
func (p *FakePin) LastLevel() gpio.Level {
	if len(p.History) == 0 {
		return gpio.Low
	}
	return p.History[len(p.History)-1]
}

var _ gpio.PinIO = (*FakePin)(nil)

// NewFakeChannelPins returns a ChannelPins wired entirely to FakePins,
// for tests.
func NewFakeChannelPins(name string) ChannelPins {
	return ChannelPins{
		Enable:      NewFakePin(name + "-enable"),
		Activate:    NewFakePin(name + "-activate"),
		Continuity:  NewFakePin(name + "-continuity"),
		OverCurrent: NewFakePin(name + "-overcurrent"),
	}
}
