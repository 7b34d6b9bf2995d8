package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/linguavibe/internal/ble/protocol"
)

// attHeaderBytes is the ATT opcode and handle carried by every write.
const attHeaderBytes = 3

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth on
// macOS). Peripheral IDs are the adapter's address strings; on macOS they
// are CoreBluetooth UUIDs rather than MAC addresses.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects addresses and connections.
	mu          sync.Mutex
	addresses   map[string]bluetooth.Address // from the latest scans, keyed by ID
	connections map[string]*tinyGoConnection
}

// NewTinyGoAdapter creates a BLE adapter. An empty id selects the default
// adapter; on Linux a non-empty id names a BlueZ adapter such as "hci1".
func NewTinyGoAdapter(id string) *TinyGoAdapter {
	a := bluetooth.DefaultAdapter
	if id != "" {
		a = newNamedAdapter(id)
	}
	return &TinyGoAdapter{
		adapter:     a,
		addresses:   make(map[string]bluetooth.Address),
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if a.adapter == nil {
		return fmt.Errorf("ble: no such adapter")
	}
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// tinygo/bluetooth reports peripheral-initiated disconnects through the
	// adapter-level connect handler with connected=false.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		if ok {
			delete(a.connections, id)
		}
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, namePrefixes []string, serviceUUID string) ([]Peripheral, error) {
	var hint *bluetooth.UUID
	if serviceUUID != "" {
		u, err := bluetooth.ParseUUID(serviceUUID)
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID: %w", err)
		}
		hint = &u
	}

	var mu sync.Mutex
	var found []Peripheral
	seen := make(map[string]int)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.stopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if !HasNamePrefix(name, namePrefixes) {
			return
		}
		// Older firmware does not advertise the service, so it is recorded
		// rather than required.
		service := hint != nil && result.HasServiceUUID(*hint)

		id := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if i, ok := seen[id]; ok {
			found[i].RSSI = int(result.RSSI)
			found[i].Service = found[i].Service || service
			return
		}
		seen[id] = len(found)
		found = append(found, Peripheral{ID: id, Name: name, RSSI: int(result.RSSI), Service: service})

		a.mu.Lock()
		a.addresses[id] = result.Address
		a.mu.Unlock()
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return found, nil
}

func (a *TinyGoAdapter) stopScan() {
	if err := a.adapter.StopScan(); err != nil && !strings.Contains(err.Error(), "no scan in progress") {
		slog.Warn("[BLE] failed to stop scan", "error", err)
	}
}

func (a *TinyGoAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	a.mu.Lock()
	addr, ok := a.addresses[id]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("ble: unknown device %s, scan first", id)
	}

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, params)
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect cannot be cancelled; drop it if it
		// completes later.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", id, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", id, result.err)
		}
		conn := &tinyGoConnection{device: result.device, id: id, adapter: a}

		// Track this connection so the adapter-level disconnect handler
		// can find it and fire its OnDisconnect callback.
		a.mu.Lock()
		a.connections[id] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// forget drops conn from the connection table if it is still the entry
// for id.
func (a *TinyGoAdapter) forget(id string, conn *tinyGoConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connections[id] == conn {
		delete(a.connections, id)
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device  bluetooth.Device
	id      string
	adapter *TinyGoAdapter

	mu           sync.Mutex
	disconnectCb func()
	dropped      bool // the peripheral went away, possibly before OnDisconnect
	fired        bool
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	if mtu, err := chars[0].GetMTU(); err == nil {
		if limit := writePayloadLimit(mtu); limit < protocol.MaxChunkBytes {
			slog.Warn("[BLE] MTU too small for a full pattern chunk, the band may truncate writes",
				"mtu", mtu, "payload", limit, "chunk", protocol.MaxChunkBytes)
		}
	}

	return &tinyGoCharacteristic{char: chars[0]}, nil
}

// writePayloadLimit is the largest write-without-response payload for mtu.
func writePayloadLimit(mtu uint16) int {
	return max(int(mtu)-attHeaderBytes, 0)
}

func (c *tinyGoConnection) Disconnect() error {
	if c.adapter != nil {
		c.adapter.forget(c.id, c)
	}
	return c.device.Disconnect()
}

// OnDisconnect registers cb. A drop reported before registration fires cb
// immediately.
func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	late := c.dropped && !c.fired && cb != nil
	if late {
		c.fired = true
	}
	c.mu.Unlock()
	if late {
		cb()
	}
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	c.dropped = true
	cb := c.disconnectCb
	fire := cb != nil && !c.fired
	if fire {
		c.fired = true
	}
	c.mu.Unlock()
	if fire {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}
