package ble

import "tinygo.org/x/bluetooth"

func newNamedAdapter(id string) *bluetooth.Adapter {
	return bluetooth.NewAdapter(id)
}
