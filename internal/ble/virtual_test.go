package ble

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/chaz8081/linguavibe/internal/ble/protocol"
	"github.com/chaz8081/linguavibe/internal/lesson"
)

func newVirtualLink(t *testing.T, band *VirtualBand) (*Link, *edgeRecorder, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	link := NewLink(band, DefaultLinkOptions())
	link.sleep = clock.Sleep
	rec := &edgeRecorder{}
	link.SetConnectionChangeCallback(rec.record)
	return link, rec, clock
}

func TestVirtualBandImplementsInterface(t *testing.T) {
	var _ Adapter = (*VirtualBand)(nil)
}

func TestVirtualBandReassemblesJSONPattern(t *testing.T) {
	band := NewVirtualBand("ESP32-LinguaVibe-Sim")
	var writes int
	var docs [][]byte
	band.OnWrite = func([]byte) { writes++ }
	band.OnDocument = func(d []byte) { docs = append(docs, d) }

	link, rec, clock := newVirtualLink(t, band)
	ctx := context.Background()

	p, err := link.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if p.ID != band.ID() || !p.Service {
		t.Fatalf("Scan() = %+v, want the virtual band", p)
	}
	if err := link.Connect(ctx, p); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	doc := lesson.PatternDocument{
		Lesson:  "Long pattern (test)",
		Phoneme: "/x/",
		Notes:   strings.Repeat("n", 900),
		Repeat:  1,
	}
	for i := 0; i < 10; i++ {
		doc.Motors = append(doc.Motors, lesson.MotorFrame{M1: i, M2: 255 - i, Duration: 100})
	}
	if err := link.SendJSONPattern(ctx, doc); err != nil {
		t.Fatalf("SendJSONPattern() error = %v", err)
	}

	if writes < 2 {
		t.Errorf("writes = %d, want a multi-chunk transfer", writes)
	}
	if len(clock.Sleeps()) != writes-1 {
		t.Errorf("pacing sleeps = %d, want %d", len(clock.Sleeps()), writes-1)
	}
	if len(docs) != 1 {
		t.Fatalf("reassembled %d documents, want 1", len(docs))
	}
	var got lesson.PatternDocument
	if err := json.Unmarshal(docs[0], &got); err != nil {
		t.Fatalf("reassembled document is not JSON: %v", err)
	}
	if got.Lesson != doc.Lesson || got.Notes != doc.Notes || len(got.Motors) != 10 {
		t.Errorf("reassembled document differs: %+v", got)
	}

	if err := link.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if edges := rec.Edges(); len(edges) != 2 || !edges[0] || edges[1] {
		t.Errorf("edges = %v, want [true false]", edges)
	}
}

func TestVirtualBandDrop(t *testing.T) {
	band := NewVirtualBand("ESP32-LinguaVibe-Sim")
	link, rec, _ := newVirtualLink(t, band)
	ctx := context.Background()

	p, err := link.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if err := link.Connect(ctx, p); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	band.Drop()
	if link.IsConnected() {
		t.Fatal("link should be disconnected after the band drops")
	}
	if err := link.TestVibration(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("TestVibration() after drop error = %v, want ErrNotConnected", err)
	}
	if edges := rec.Edges(); len(edges) != 2 || edges[1] {
		t.Errorf("edges = %v, want [true false]", edges)
	}

	// The band can be reconnected after a drop.
	if err := link.Connect(ctx, p); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	if !link.IsConnected() {
		t.Error("link should be connected again")
	}
}

func TestVirtualBandScanFilters(t *testing.T) {
	band := NewVirtualBand("Headphones")
	link, _, _ := newVirtualLink(t, band)

	_, err := link.Scan(context.Background())
	if !errors.Is(err, ErrDiscoveryFailed) {
		t.Errorf("Scan() error = %v, want ErrDiscoveryFailed", err)
	}
}

func TestVirtualBandConnectUnknownID(t *testing.T) {
	band := NewVirtualBand("ESP32-LinguaVibe-Sim")
	link, _, _ := newVirtualLink(t, band)

	err := link.Connect(context.Background(), Peripheral{ID: "nope", Name: "ESP32-Other"})
	if !errors.Is(err, ErrConnectFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectFailed", err)
	}
	if link.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", link.State())
	}
}

func TestVirtualBandDiscoverMatchesUUIDs(t *testing.T) {
	band := NewVirtualBand("ESP32-LinguaVibe-Sim")
	conn, err := band.Connect(context.Background(), band.ID())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if _, err := conn.DiscoverCharacteristic(strings.ToUpper(protocol.ServiceUUID), strings.ToUpper(protocol.CharacteristicUUID)); err != nil {
		t.Errorf("DiscoverCharacteristic(upper case) error = %v", err)
	}
	if _, err := conn.DiscoverCharacteristic(protocol.ServiceUUID, protocol.ServiceUUID); err == nil {
		t.Error("DiscoverCharacteristic() should reject an unknown characteristic")
	}
	if _, err := conn.DiscoverCharacteristic("not-a-uuid", protocol.CharacteristicUUID); err == nil {
		t.Error("DiscoverCharacteristic() should reject an invalid service UUID")
	}
}

func TestVirtualBandDropBeforeObserverRegistered(t *testing.T) {
	band := NewVirtualBand("ESP32-LinguaVibe-Sim")
	conn, err := band.Connect(context.Background(), band.ID())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	band.Drop()
	var calls int
	conn.OnDisconnect(func() { calls++ })
	if calls != 1 {
		t.Errorf("late-registered disconnect callback fired %d times, want 1", calls)
	}
}
