package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/chaz8081/linguavibe/internal/ble/protocol"
)

// VirtualBand is an in-memory Adapter that advertises a single LinguaVibe
// band. Every write is handed to OnWrite, and chunked JSON documents are
// reassembled the way the firmware does and handed to OnDocument. It backs
// the simulate command.
type VirtualBand struct {
	Name string
	RSSI int

	// OnWrite and OnDocument are optional and must be set before Connect.
	OnWrite    func(data []byte)
	OnDocument func(doc []byte)

	id string

	mu   sync.Mutex
	conn *virtualConnection
	rx   protocol.Reassembler
}

// NewVirtualBand creates a virtual band advertising name.
func NewVirtualBand(name string) *VirtualBand {
	return &VirtualBand{
		Name: name,
		RSSI: -40,
		id:   uuid.NewString(),
	}
}

// ID returns the band's address.
func (v *VirtualBand) ID() string { return v.id }

func (v *VirtualBand) Enable() error { return nil }

func (v *VirtualBand) Scan(ctx context.Context, namePrefixes []string, _ string) ([]Peripheral, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !HasNamePrefix(v.Name, namePrefixes) {
		return nil, nil
	}
	return []Peripheral{{ID: v.id, Name: v.Name, RSSI: v.RSSI, Service: true}}, nil
}

func (v *VirtualBand) Connect(ctx context.Context, id string) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id != v.id {
		return nil, fmt.Errorf("ble: virtual band %s not found", id)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn != nil {
		return nil, fmt.Errorf("ble: virtual band already connected")
	}
	v.rx.Reset()
	v.conn = &virtualConnection{band: v}
	return v.conn, nil
}

// Drop simulates the band going out of range.
func (v *VirtualBand) Drop() {
	v.mu.Lock()
	conn := v.conn
	v.conn = nil
	v.mu.Unlock()
	if conn != nil {
		conn.fireDisconnect()
	}
}

func (v *VirtualBand) receive(conn *virtualConnection, data []byte) error {
	v.mu.Lock()
	if v.conn != conn {
		v.mu.Unlock()
		return fmt.Errorf("ble: virtual band not connected")
	}
	docs, err := v.rx.Feed(data)
	onWrite, onDoc := v.OnWrite, v.OnDocument
	v.mu.Unlock()

	if onWrite != nil {
		onWrite(append([]byte(nil), data...))
	}
	for _, d := range docs {
		if onDoc != nil {
			onDoc(d)
		}
	}
	if err != nil {
		slog.Warn("[BLE] virtual band dropped a document", "error", err)
	}
	return nil
}

type virtualConnection struct {
	band *VirtualBand

	mu           sync.Mutex
	onDisconnect func()
	dropped      bool
	fired        bool
}

func (c *virtualConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	if !protocol.SameUUID(serviceUUID, protocol.ServiceID) || !protocol.SameUUID(charUUID, protocol.CharacteristicID) {
		return nil, fmt.Errorf("ble: characteristic %s/%s not found", serviceUUID, charUUID)
	}
	return &virtualCharacteristic{conn: c}, nil
}

func (c *virtualConnection) Disconnect() error {
	c.band.mu.Lock()
	if c.band.conn == c {
		c.band.conn = nil
	}
	c.band.mu.Unlock()
	return nil
}

// OnDisconnect registers cb. A drop that happened before registration fires
// cb immediately.
func (c *virtualConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.onDisconnect = cb
	late := c.dropped && !c.fired && cb != nil
	if late {
		c.fired = true
	}
	c.mu.Unlock()
	if late {
		cb()
	}
}

func (c *virtualConnection) fireDisconnect() {
	c.mu.Lock()
	c.dropped = true
	cb := c.onDisconnect
	fire := cb != nil && !c.fired
	if fire {
		c.fired = true
	}
	c.mu.Unlock()
	if fire {
		cb()
	}
}

type virtualCharacteristic struct {
	conn *virtualConnection
}

func (c *virtualCharacteristic) Write(data []byte) error {
	return c.conn.band.receive(c.conn, data)
}
