// Package led drives one indicator LED per detection class over GPIO.
package led

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// pinOut is the part of gpio.PinIO the controller drives.
type pinOut interface {
	Out(l gpio.Level) error
	Name() string
}

// Controller lights the LEDs of the classes seen in the latest inference.
type Controller struct {
	mu    sync.Mutex
	pins  map[string]pinOut
	state map[string]bool
}

// New initializes the host drivers and resolves every pin by name, for
// example "GPIO17". All LEDs start off.
func New(pins map[string]string) (*Controller, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio init: %w", err)
	}

	resolved := make(map[string]pinOut, len(pins))
	for label, name := range pins {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("gpio pin %q for %s not found", name, label)
		}
		resolved[label] = p
	}

	c := newController(resolved)
	if err := c.Off(); err != nil {
		return nil, err
	}
	return c, nil
}

func newController(pins map[string]pinOut) *Controller {
	return &Controller{
		pins:  pins,
		state: make(map[string]bool, len(pins)),
	}
}

// Set turns every LED off, then turns on the LEDs of the given labels.
// Labels without a pin are ignored.
func (c *Controller) Set(labels []string) error {
	on := make(map[string]bool, len(labels))
	for _, l := range labels {
		on[l] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for _, label := range c.labels() {
		err = multierr.Append(err, c.write(label, gpio.Low))
	}
	for _, label := range c.labels() {
		if on[label] {
			err = multierr.Append(err, c.write(label, gpio.High))
		}
	}
	return err
}

// Off turns every LED off.
func (c *Controller) Off() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for _, label := range c.labels() {
		err = multierr.Append(err, c.write(label, gpio.Low))
	}
	return err
}

// Lit returns the labels whose LED is on, sorted.
func (c *Controller) Lit() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lit []string
	for _, label := range c.labels() {
		if c.state[label] {
			lit = append(lit, label)
		}
	}
	return lit
}

// Close turns every LED off.
func (c *Controller) Close() error {
	return c.Off()
}

func (c *Controller) labels() []string {
	labels := make([]string, 0, len(c.pins))
	for l := range c.pins {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func (c *Controller) write(label string, level gpio.Level) error {
	p := c.pins[label]
	if err := p.Out(level); err != nil {
		return fmt.Errorf("set %s (%s): %w", label, p.Name(), err)
	}
	c.state[label] = bool(level)
	return nil
}
