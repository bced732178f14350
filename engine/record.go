package engine

import (
	"encoding/binary"
	"fmt"
)

// Record framing: type (1) | version (2) | length (2), TLS style. The length
// counts the record body only.
const (
	recordHeaderSize = 5
	maxPlaintext     = 16384
	aeadOverhead     = 16
	maxRecordBody    = maxPlaintext + aeadOverhead
)

const (
	recordTypeAlert     byte = 21
	recordTypeHandshake byte = 22
	recordTypeAppData   byte = 23
)

func putRecordHeader(h []byte, typ byte, version uint16, n int) {
	h[0] = typ
	binary.BigEndian.PutUint16(h[1:3], version)
	binary.BigEndian.PutUint16(h[3:5], uint16(n))
}

// parseRecordHeader reads a record header from b. ok is false when fewer
// than recordHeaderSize bytes are available.
func parseRecordHeader(b []byte) (typ byte, version uint16, n int, ok bool) {
	if len(b) < recordHeaderSize {
		return 0, 0, 0, false
	}
	return b[0], binary.BigEndian.Uint16(b[1:3]), int(binary.BigEndian.Uint16(b[3:5])), true
}

func checkRecordType(typ byte) error {
	switch typ {
	case recordTypeAlert, recordTypeHandshake, recordTypeAppData:
		return nil
	default:
		return fmt.Errorf("unknown record type %d", typ)
	}
}
