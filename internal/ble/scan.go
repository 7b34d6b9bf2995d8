package ble

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/chaz8081/linguavibe/internal/ble/protocol"
)

// ErrPickCancelled is returned by a Picker when the user declines to choose.
var ErrPickCancelled = errors.New("ble: device selection cancelled")

// Picker chooses one peripheral among scan candidates, ordered by signal
// strength. It stands in for the user-facing device chooser.
type Picker func(ctx context.Context, candidates []Peripheral) (Peripheral, error)

// StrongestSignal picks the first (strongest) candidate.
func StrongestSignal(_ context.Context, candidates []Peripheral) (Peripheral, error) {
	if len(candidates) == 0 {
		return Peripheral{}, errors.New("no candidates")
	}
	return candidates[0], nil
}

// Scan looks for compatible bands for the configured scan window and lets the
// picker choose one. It does not retry.
func (l *Link) Scan(ctx context.Context) (Peripheral, error) {
	if err := l.supportErr(); err != nil {
		return Peripheral{}, err
	}

	l.enterTransient(StateScanning)
	defer l.leaveTransient(StateScanning)

	scanCtx, cancel := context.WithTimeout(ctx, l.opts.ScanTimeout)
	defer cancel()

	found, err := l.adapter.Scan(scanCtx, l.opts.NamePrefixes, protocol.ServiceUUID)
	if err != nil {
		return Peripheral{}, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return Peripheral{}, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	candidates := filterCandidates(found, l.opts.NamePrefixes)
	slog.Debug("[BLE] scan finished", "seen", len(found), "compatible", len(candidates))
	if len(candidates) == 0 {
		return Peripheral{}, fmt.Errorf("%w: no compatible device found", ErrDiscoveryFailed)
	}

	p, err := l.opts.Picker(ctx, candidates)
	if err != nil {
		return Peripheral{}, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}
	return p, nil
}

// filterCandidates keeps peripherals with an allowed name prefix, drops
// duplicate IDs, and orders the rest by RSSI, strongest first.
func filterCandidates(found []Peripheral, prefixes []string) []Peripheral {
	seen := make(map[string]bool, len(found))
	var out []Peripheral
	for _, p := range found {
		if p.ID == "" || seen[p.ID] || !HasNamePrefix(p.Name, prefixes) {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	slices.SortStableFunc(out, func(a, b Peripheral) int { return cmp.Compare(b.RSSI, a.RSSI) })
	return out
}

// HasNamePrefix reports whether name starts with one of prefixes.
func HasNamePrefix(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// enterTransient moves a disconnected link into s. A connected link keeps
// its state.
func (l *Link) enterTransient(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDisconnected {
		l.state = s
	}
}

func (l *Link) leaveTransient(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == s {
		l.state = StateDisconnected
	}
}
