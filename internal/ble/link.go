package ble

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/linguavibe/internal/ble/protocol"
	"github.com/chaz8081/linguavibe/internal/lesson"
)

// State is the lifecycle state of a Link.
type State int

const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// TestFrame is the frame played by TestVibration.
var TestFrame = lesson.MotorFrame{M1: 200, M2: 100, M3: 200, M4: 100, Duration: 200}

// LinkOptions configures the Link behavior.
type LinkOptions struct {
	NamePrefixes   []string      // advertised name prefixes accepted by Scan
	ScanTimeout    time.Duration // how long Scan listens for advertisements
	ConnectTimeout time.Duration // bound on connect + GATT resolution, 0 = none
	WriteTimeout   time.Duration // bound on each single write, 0 = none
	Picker         Picker        // chooses among scan candidates
}

// DefaultLinkOptions returns sensible defaults.
func DefaultLinkOptions() LinkOptions {
	return LinkOptions{
		NamePrefixes:   protocol.NamePrefixes,
		ScanTimeout:    5 * time.Second,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   2 * time.Second,
		Picker:         StrongestSignal,
	}
}

// Link owns the connection to one LinguaVibe band. The peripheral and its
// write characteristic are set and cleared together; the link is connected
// iff both are present. Safe for concurrent use.
type Link struct {
	adapter Adapter
	opts    LinkOptions
	sleep   func(ctx context.Context, d time.Duration) error

	// enableMu serializes Enable calls; only success is remembered.
	enableMu sync.Mutex
	enabled  bool

	// sendMu keeps the writes of one send from interleaving with another.
	sendMu sync.Mutex

	mu         sync.Mutex
	state      State
	peripheral Peripheral
	conn       Connection
	char       Characteristic
	onChange   func(connected bool)
	observerID uint64
	events     []bool
	delivering bool

	// inflight is closed when a write abandoned on timeout or cancellation
	// finally returns. No new write starts before it does.
	inflight <-chan struct{}
}

// NewLink creates a Link over the given adapter. A nil adapter yields a link
// whose IsSupported reports false.
func NewLink(adapter Adapter, opts LinkOptions) *Link {
	def := DefaultLinkOptions()
	if len(opts.NamePrefixes) == 0 {
		opts.NamePrefixes = def.NamePrefixes
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.Picker == nil {
		opts.Picker = def.Picker
	}
	return &Link{
		adapter: adapter,
		opts:    opts,
		sleep:   sleepContext,
	}
}

// IsSupported reports whether the host exposes a usable BLE adapter. The
// adapter is enabled on the first call.
func (l *Link) IsSupported() bool {
	return l.supportErr() == nil
}

func (l *Link) supportErr() error {
	if l.adapter == nil {
		return ErrUnsupportedTransport
	}
	l.enableMu.Lock()
	defer l.enableMu.Unlock()
	if l.enabled {
		return nil
	}
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedTransport, err)
	}
	l.enabled = true
	return nil
}

// SetConnectionChangeCallback registers the single observer of
// connected/disconnected edges, replacing any previous one. nil clears it.
// The callback never fires for the transient scanning/connecting states.
//
// The returned release func clears the slot only while it still holds this
// registration, so a stale owner cannot unregister its successor.
func (l *Link) SetConnectionChangeCallback(fn func(connected bool)) (release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observerID++
	id := l.observerID
	l.onChange = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.observerID == id {
			l.onChange = nil
			l.observerID++
		}
	}
}

// State returns the current lifecycle state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsConnected reports whether a band is connected.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil && l.char != nil
}

// Device returns the connected band, if any.
func (l *Link) Device() (Peripheral, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return Peripheral{}, false
	}
	return l.peripheral, true
}

// Connect connects to p and resolves the band's write characteristic. On
// success the observer fires with true. An ambient disconnect later runs the
// same teardown as Disconnect.
func (l *Link) Connect(ctx context.Context, p Peripheral) error {
	if err := l.supportErr(); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("%w: %q has no address", ErrGattUnavailable, p.Name)
	}

	l.mu.Lock()
	switch {
	case l.conn != nil:
		name := l.peripheral.Name
		l.mu.Unlock()
		return fmt.Errorf("%w to %s", ErrAlreadyConnected, name)
	case l.state == StateConnecting:
		l.mu.Unlock()
		return fmt.Errorf("%w: connection attempt already in progress", ErrConnectFailed)
	}
	l.state = StateConnecting
	l.mu.Unlock()

	if l.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.ConnectTimeout)
		defer cancel()
	}

	conn, err := l.adapter.Connect(ctx, p.ID)
	if err != nil {
		l.abortConnect()
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, p.Name, err)
	}

	char, err := discoverCharacteristic(ctx, conn)
	if err != nil {
		_ = conn.Disconnect()
		l.abortConnect()
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, p.Name, err)
	}

	// The drop may race the publish below; dropped lets us catch it.
	var dropped atomic.Bool
	conn.OnDisconnect(func() {
		dropped.Store(true)
		if l.teardown(conn) {
			slog.Warn("[BLE] band disconnected", "device", p.Name, "id", p.ID)
		}
	})

	l.mu.Lock()
	l.peripheral = p
	l.conn = conn
	l.char = char
	l.state = StateConnected
	l.events = append(l.events, true)
	l.mu.Unlock()
	l.deliver()

	slog.Info("[BLE] connected", "device", p.Name, "id", p.ID)

	if dropped.Load() && l.teardown(conn) {
		slog.Warn("[BLE] band disconnected", "device", p.Name, "id", p.ID)
	}
	return nil
}

// discoverCharacteristic resolves the write characteristic, giving up when
// ctx is done.
func discoverCharacteristic(ctx context.Context, conn Connection) (Characteristic, error) {
	type result struct {
		char Characteristic
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := conn.DiscoverCharacteristic(protocol.ServiceUUID, protocol.CharacteristicUUID)
		ch <- result{c, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("discover characteristic: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("discover characteristic: %w", r.err)
		}
		return r.char, nil
	}
}

func (l *Link) abortConnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateConnecting {
		l.state = StateDisconnected
	}
}

// Disconnect disconnects the band. It is a no-op when not connected.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	conn, p := l.conn, l.peripheral
	l.mu.Unlock()

	if conn == nil || !l.teardown(conn) {
		return nil
	}
	slog.Info("[BLE] disconnected", "device", p.Name, "id", p.ID)

	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect %s: %w", p.Name, err)
	}
	return nil
}

// teardown clears the connection pair if conn is still the active one and
// fires the observer with false. It is the only path to Disconnected from
// Connected, for both explicit and ambient disconnects. Returns whether this
// call performed the transition.
func (l *Link) teardown(conn Connection) bool {
	l.mu.Lock()
	if l.conn == nil || l.conn != conn {
		l.mu.Unlock()
		return false
	}
	l.peripheral = Peripheral{}
	l.conn = nil
	l.char = nil
	l.state = StateDisconnected
	l.events = append(l.events, false)
	// An abandoned write belonged to the old connection.
	l.inflight = nil
	l.mu.Unlock()
	l.deliver()
	return true
}

// deliver invokes the observer for queued edges, in order, outside the lock.
// Only one goroutine delivers at a time; others leave their edges queued for
// it, so the observer may call back into the Link.
func (l *Link) deliver() {
	l.mu.Lock()
	if l.delivering {
		l.mu.Unlock()
		return
	}
	l.delivering = true
	for len(l.events) > 0 {
		connected := l.events[0]
		l.events = l.events[1:]
		fn := l.onChange
		l.mu.Unlock()
		if fn != nil {
			fn(connected)
		}
		l.mu.Lock()
	}
	l.delivering = false
	l.mu.Unlock()
}

// channel returns the active write characteristic.
func (l *Link) channel() (Characteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.char == nil {
		return nil, ErrNotConnected
	}
	return l.char, nil
}

// write issues one write on char, bounded by ctx and the write timeout.
// It fails with ErrNotConnected if char is no longer the active channel.
func (l *Link) write(ctx context.Context, char Characteristic, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cur, err := l.channel(); err != nil || cur != char {
		return ErrNotConnected
	}
	if err := l.awaitInflight(ctx); err != nil {
		return err
	}

	if l.opts.WriteTimeout <= 0 && ctx.Done() == nil {
		return char.Write(data)
	}

	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- char.Write(data)
		close(finished)
	}()

	timeout, stop := l.writeTimer()
	defer stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		l.setInflight(finished)
		return ctx.Err()
	case <-timeout:
		l.setInflight(finished)
		return fmt.Errorf("%w after %s", ErrWriteTimeout, l.opts.WriteTimeout)
	}
}

// awaitInflight waits for a previously abandoned write to return, bounded by
// ctx and the write timeout.
func (l *Link) awaitInflight(ctx context.Context) error {
	l.mu.Lock()
	pending := l.inflight
	l.mu.Unlock()
	if pending == nil {
		return nil
	}

	timeout, stop := l.writeTimer()
	defer stop()

	select {
	case <-pending:
		l.mu.Lock()
		if l.inflight == pending {
			l.inflight = nil
		}
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("%w: previous write still in flight", ErrWriteTimeout)
	}
}

func (l *Link) setInflight(finished <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight = finished
}

// writeTimer returns a channel that fires after the write timeout, or nil
// when writes are unbounded.
func (l *Link) writeTimer() (<-chan time.Time, func()) {
	if l.opts.WriteTimeout <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(l.opts.WriteTimeout)
	return t.C, func() { t.Stop() }
}

// SendVibrationPattern sends the legacy frame: one intensity byte followed by
// up to five pattern bytes, in a single write.
func (l *Link) SendVibrationPattern(ctx context.Context, pattern []byte, intensity byte) error {
	char, err := l.channel()
	if err != nil {
		return err
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if err := l.write(ctx, char, protocol.VibrationFrame(intensity, pattern)); err != nil {
		return fmt.Errorf("ble: failed to send vibration pattern: %w", err)
	}
	return nil
}

// Send4MotorPattern plays frames in order. Each frame is written as a 6-byte
// record and followed by a pause of the frame's duration, keeping delivery in
// step with playback on the band. The first failed write aborts the send;
// frames already played are not undone.
func (l *Link) Send4MotorPattern(ctx context.Context, frames []lesson.MotorFrame) error {
	char, err := l.channel()
	if err != nil {
		return err
	}
	if err := lesson.ValidateFrames(frames); err != nil {
		return err
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	for i, f := range frames {
		d := time.Duration(f.Duration) * time.Millisecond
		rec := protocol.MotorFrame(byte(f.M1), byte(f.M2), byte(f.M3), byte(f.M4), uint16(f.Duration))
		if err := l.write(ctx, char, rec[:]); err != nil {
			return &SendError{Op: "motor pattern", Sent: i, Total: len(frames), Err: err}
		}
		slog.Debug("[BLE] motor frame sent", "index", i, "duration", d)
		if err := l.sleep(ctx, d); err != nil {
			return &SendError{Op: "motor pattern", Sent: i + 1, Total: len(frames), Err: err}
		}
	}
	return nil
}

// SendJSONPattern validates doc, serializes it as compact JSON and writes it
// in MaxChunkBytes chunks with ChunkDelay between chunks. The band
// reassembles chunks as described on protocol.Reassembler.
func (l *Link) SendJSONPattern(ctx context.Context, doc lesson.PatternDocument) error {
	char, err := l.channel()
	if err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	data, err := marshalDocument(doc)
	if err != nil {
		return fmt.Errorf("ble: marshal pattern: %w", err)
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	chunks := protocol.Chunk(data, protocol.MaxChunkBytes)
	for i, chunk := range chunks {
		if err := l.write(ctx, char, chunk); err != nil {
			return &SendError{Op: "JSON pattern", Sent: i, Total: len(chunks), Err: err}
		}
		if i < len(chunks)-1 {
			if err := l.sleep(ctx, protocol.ChunkDelay); err != nil {
				return &SendError{Op: "JSON pattern", Sent: i + 1, Total: len(chunks), Err: err}
			}
		}
	}
	slog.Debug("[BLE] pattern sent", "lesson", doc.Lesson, "bytes", len(data), "chunks", len(chunks))
	return nil
}

// marshalDocument encodes doc as compact JSON without HTML escaping, so
// characters such as & and < go out as-is.
func marshalDocument(doc lesson.PatternDocument) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// TestVibration plays TestFrame so the user can feel that the band works.
func (l *Link) TestVibration(ctx context.Context) error {
	return l.Send4MotorPattern(ctx, []lesson.MotorFrame{TestFrame})
}

// sleepContext pauses for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
