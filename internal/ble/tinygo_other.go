//go:build !linux

package ble

import "tinygo.org/x/bluetooth"

// newNamedAdapter returns nil: only BlueZ exposes more than one adapter.
func newNamedAdapter(string) *bluetooth.Adapter {
	return nil
}
