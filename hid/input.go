package hid

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/wnxd/microxe/ui"
)

type State struct {
	PacketNumber uint32
	Buttons      uint16
	LeftTrigger  uint8
	RightTrigger uint8
	ThumbLX      int16
	ThumbLY      int16
	ThumbRX      int16
	ThumbRY      int16
}

type InputDriver interface {
	Setup() error
	SetIsActiveCallback(fn func() bool)
	GetState(user uint32) (State, error)
}

type DriverFactory func(window ui.Window) (InputDriver, error)

type InputSystem struct {
	mu      sync.RWMutex
	window  ui.Window
	drivers []InputDriver
}

func NewInputSystem(window ui.Window) *InputSystem {
	return &InputSystem{window: window}
}

func (s *InputSystem) Window() ui.Window {
	return s.window
}

func (s *InputSystem) AddDriver(driver InputDriver) {
	s.mu.Lock()
	s.drivers = append(s.drivers, driver)
	s.mu.Unlock()
}

func (s *InputSystem) Drivers() []InputDriver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]InputDriver(nil), s.drivers...)
}

func (s *InputSystem) Setup() error {
	var err error
	for _, driver := range s.Drivers() {
		err = multierr.Append(err, driver.Setup())
	}
	return err
}

func (s *InputSystem) GetState(user uint32) (State, error) {
	drivers := s.Drivers()
	if len(drivers) == 0 {
		return State{}, ErrNoDrivers
	}
	for _, driver := range drivers {
		if state, err := driver.GetState(user); err == nil {
			return state, nil
		}
	}
	return State{}, ErrNotConnected
}
