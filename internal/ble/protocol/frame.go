// Package protocol implements the byte-level wire contract shared with the
// LinguaVibe band firmware: GATT identifiers, the legacy vibration frame, the
// 4-motor timed frame, and chunking of JSON pattern documents.
package protocol

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// LinguaVibe band GATT UUIDs. Fixed by the firmware.
const (
	ServiceUUID        = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	CharacteristicUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
)

// NamePrefixes are the advertised local-name prefixes of compatible firmware.
var NamePrefixes = []string{"ESP32", "ESP"}

// MaxPatternBytes is the number of pattern bytes carried by a legacy frame.
const MaxPatternBytes = 5

// MotorFrameSize is the length of a 4-motor frame on the wire.
const MotorFrameSize = 6

// Parsed forms of the GATT UUIDs.
var (
	ServiceID        = uuid.MustParse(ServiceUUID)
	CharacteristicID = uuid.MustParse(CharacteristicUUID)
)

// SameUUID reports whether s is a valid UUID equal to id. Case, braces and
// the urn:uuid: prefix are ignored.
func SameUUID(s string, id uuid.UUID) bool {
	u, err := uuid.Parse(s)
	return err == nil && u == id
}

// VibrationFrame encodes the legacy single-write frame:
//
//	[intensity, pattern[0], ..., pattern[4]]
//
// Patterns longer than MaxPatternBytes are truncated.
func VibrationFrame(intensity byte, pattern []byte) []byte {
	if len(pattern) > MaxPatternBytes {
		pattern = pattern[:MaxPatternBytes]
	}
	buf := make([]byte, 0, 1+len(pattern))
	buf = append(buf, intensity)
	buf = append(buf, pattern...)
	return buf
}

// MotorFrame encodes one 4-motor actuation record:
//
//	[M1, M2, M3, M4, duration_lo, duration_hi]
//
// The duration is a little-endian uint16 in milliseconds.
func MotorFrame(m1, m2, m3, m4 byte, durationMS uint16) [MotorFrameSize]byte {
	var f [MotorFrameSize]byte
	f[0], f[1], f[2], f[3] = m1, m2, m3, m4
	binary.LittleEndian.PutUint16(f[4:], durationMS)
	return f
}
