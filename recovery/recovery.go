// Package recovery drives the two pyrotechnic recovery channels
// (drogue and main parachute) and reports their continuity and
// overcurrent state. Each channel exposes an enable pin (active-low
// enable: driving it low arms the driver) and an activate pin (active-
// high: driving it high fires the e-match), plus a continuity input and
// an overcurrent input.
package recovery

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/northfield-rocketry/flightcomputer/records"
)

// Channel identifies one of the two pyrotechnic recovery outputs.
type Channel int

const (
	Drogue Channel = iota
	Main
)

func (c Channel) String() string {
	if c == Main {
		return "main"
	}
	return "drogue"
}

// OverCurrentStatus is the electrical fault state of a recovery channel.
type OverCurrentStatus uint8

const (
	Normal OverCurrentStatus = iota
	OverCurrent
)

func (s OverCurrentStatus) String() string {
	if s == OverCurrent {
		return "overcurrent"
	}
	return "normal"
}

// ChannelPins is one recovery channel's four GPIO lines. Enable is
// active-low (driving it low arms the MOSFET driver); Activate is
// active-high (driving it high fires the e-match). Continuity and
// OverCurrent are inputs.
type ChannelPins struct {
	Enable      gpio.PinIO
	Activate    gpio.PinIO
	Continuity  gpio.PinIO
	OverCurrent gpio.PinIO
}

// Controller drives both recovery channels. Construct with New, wiring
// each channel's four pins.
type Controller struct {
	channels [2]ChannelPins
}

func New(drogue, main ChannelPins) *Controller {
	return &Controller{channels: [2]ChannelPins{drogue, main}}
}

func (c *Controller) pins(ch Channel) ChannelPins { return c.channels[ch] }

// Continuity reads the continuity input for ch. A high reading means
// continuity is broken (Open); a low reading means the e-match loop is
// intact (Short).
func (c *Controller) Continuity(ch Channel) (records.ContinuityStatus, error) {
	p := c.pins(ch).Continuity
	if p == nil {
		return records.Open, fmt.Errorf("recovery: channel %s has no continuity pin", ch)
	}
	if p.Read() == gpio.High {
		return records.Open, nil
	}
	return records.Short, nil
}

// OverCurrentState reads the overcurrent fault input for ch.
func (c *Controller) OverCurrentState(ch Channel) (OverCurrentStatus, error) {
	p := c.pins(ch).OverCurrent
	if p == nil {
		return Normal, fmt.Errorf("recovery: channel %s has no overcurrent pin", ch)
	}
	if p.Read() == gpio.High {
		return OverCurrent, nil
	}
	return Normal, nil
}

// Activate runs the MOSFET activation protocol for ch, symmetric across
// both channels: drive the activate pin low (fault clear), then high
// (fires the e-match), hold for holdFor, then low; finally drive the
// enable pin high to disable the driver. The original firmware applied
// an asymmetric hold delay between the two channels; this normalizes
// both to the same sequence.
func (c *Controller) Activate(ch Channel, holdFor time.Duration) error {
	pins := c.pins(ch)
	if pins.Enable == nil || pins.Activate == nil {
		return fmt.Errorf("recovery: channel %s missing enable/activate pin", ch)
	}

	if err := pins.Enable.Out(gpio.Low); err != nil {
		return fmt.Errorf("recovery: arm channel %s: %w", ch, err)
	}
	if err := pins.Activate.Out(gpio.Low); err != nil {
		return fmt.Errorf("recovery: clear channel %s: %w", ch, err)
	}
	if err := pins.Activate.Out(gpio.High); err != nil {
		return fmt.Errorf("recovery: fire channel %s: %w", ch, err)
	}
	time.Sleep(holdFor)
	if err := pins.Activate.Out(gpio.Low); err != nil {
		return fmt.Errorf("recovery: release channel %s: %w", ch, err)
	}
	if err := pins.Enable.Out(gpio.High); err != nil {
		return fmt.Errorf("recovery: disarm channel %s: %w", ch, err)
	}
	return nil
}
