// Package ble provides the BLE link to a LinguaVibe haptic band (an ESP32
// running the LinguaVibe firmware). It handles discovery, the connection
// lifecycle, and delivery of vibration patterns over one write
// characteristic.
package ble

import "context"

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
}

// Peripheral represents a discovered BLE peripheral.
type Peripheral struct {
	ID      string // adapter-level address: MAC on Linux, CoreBluetooth UUID on macOS
	Name    string
	RSSI    int
	Service bool // advertises the band service UUID
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter. An error means the host has no
	// usable BLE transport.
	Enable() error
	// Scan discovers BLE peripherals whose advertised name starts with one
	// of namePrefixes, until ctx is done. serviceUUID is an optional hint.
	Scan(ctx context.Context, namePrefixes []string, serviceUUID string) ([]Peripheral, error)
	// Connect establishes a connection to the peripheral with the given ID.
	Connect(ctx context.Context, id string) (Connection, error)
}
