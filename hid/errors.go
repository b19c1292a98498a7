package hid

import "errors"

var (
	ErrNotConnected = errors.New("device not connected")
	ErrNoDrivers    = errors.New("no input drivers")
)
