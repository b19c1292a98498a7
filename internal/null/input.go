package null

import (
	"github.com/wnxd/microxe/hid"
	"github.com/wnxd/microxe/ui"
)

type Input struct {
	active func() bool
}

func NewInput(window ui.Window) (hid.InputDriver, error) {
	return new(Input), nil
}

func (d *Input) Setup() error {
	return nil
}

func (d *Input) SetIsActiveCallback(fn func() bool) {
	d.active = fn
}

func (d *Input) IsActive() bool {
	return d.active == nil || d.active()
}

func (d *Input) GetState(user uint32) (hid.State, error) {
	return hid.State{}, hid.ErrNotConnected
}
