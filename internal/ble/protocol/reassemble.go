package protocol

import (
	"errors"
	"fmt"
)

// DefaultMaxDocumentBytes bounds a pending document in the Reassembler.
const DefaultMaxDocumentBytes = 16 * 1024

// ErrDocumentTooLarge is returned when a pending document outgrows the
// reassembly buffer. The partial document is discarded.
var ErrDocumentTooLarge = errors.New("protocol: document exceeds reassembly limit")

// Reassembler is the receiving side of the chunked JSON transfer. Chunks carry
// no framing: a document is complete when the bytes received since its
// opening brace form one balanced top-level JSON object. Brace depth is only
// tracked outside string literals.
//
// The firmware implements the same rules; this type documents them and lets
// the client verify its own output.
type Reassembler struct {
	// MaxBytes caps a pending document. Zero means DefaultMaxDocumentBytes.
	MaxBytes int

	buf      []byte
	depth    int
	inString bool
	escaped  bool
}

// Feed appends one chunk and returns every document completed by it.
// Bytes outside a document (whitespace, stray data) are ignored.
func (r *Reassembler) Feed(chunk []byte) ([][]byte, error) {
	limit := r.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxDocumentBytes
	}

	var docs [][]byte
	for _, b := range chunk {
		if r.depth == 0 {
			if b != '{' {
				continue
			}
			r.buf = r.buf[:0]
		}

		r.buf = append(r.buf, b)
		if len(r.buf) > limit {
			n := len(r.buf)
			r.Reset()
			return docs, fmt.Errorf("%w: %d > %d bytes", ErrDocumentTooLarge, n, limit)
		}

		switch {
		case r.inString:
			switch {
			case r.escaped:
				r.escaped = false
			case b == '\\':
				r.escaped = true
			case b == '"':
				r.inString = false
			}
		case b == '"':
			r.inString = true
		case b == '{':
			r.depth++
		case b == '}':
			r.depth--
			if r.depth == 0 {
				doc := make([]byte, len(r.buf))
				copy(doc, r.buf)
				docs = append(docs, doc)
				r.buf = r.buf[:0]
			}
		}
	}
	return docs, nil
}

// Pending reports how many bytes of an incomplete document are buffered.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

// Reset discards any partial document.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.depth = 0
	r.inString = false
	r.escaped = false
}
