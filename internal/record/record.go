// Package record implements the binary codec for log frames.
//
// Frame format: [4 bytes KeyLen][4 bytes ValueLen][4 bytes CRC32][Key][Value]
// All integer fields are fixed-width BigEndian. A tombstone is encoded by
// setting the ValueLen field to the tombstone sentinel (all bits set) with no
// value bytes following; a zero-length value keeps ValueLen = 0 and is a
// distinct, legal encoding. The checksum is CRC32 (IEEE) over key then value
// and is verified on every decode.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	// LengthSize is the size in bytes of each length field
	LengthSize = 4

	// ChecksumSize is the size in bytes of the CRC32 field
	ChecksumSize = 4

	// HeaderSize is the total size of the frame header (key length + value length + checksum)
	HeaderSize = 2*LengthSize + ChecksumSize // 12 bytes

	// tombstoneSentinel marks a deletion in the value-length field. It is
	// deliberately distinct from a legitimate zero-length value.
	tombstoneSentinel = 0xFFFFFFFF

	// MaxValueSize is the largest encodable value. One below the sentinel so
	// the two can never collide.
	MaxValueSize = tombstoneSentinel - 1

	// MaxKeySize is the largest encodable key, bounded by the 4-byte
	// key-length field.
	MaxKeySize = 0xFFFFFFFF
)

// ErrCorrupt is returned when a frame's checksum or declared lengths don't
// match its bytes.
var ErrCorrupt = errors.New("corrupt record")

// Record is a single decoded log frame.
type Record struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Size returns the encoded frame size in bytes.
func (r Record) Size() int {
	n := HeaderSize + len(r.Key)
	if !r.Tombstone {
		n += len(r.Value)
	}
	return n
}

func checksum(key, value []byte) uint32 {
	return crc32.Update(crc32.ChecksumIEEE(key), crc32.IEEETable, value)
}

// Encode serializes a record into a frame. Deterministic: the same record
// always yields identical bytes.
func Encode(r Record) []byte {
	buf := make([]byte, r.Size())

	binary.BigEndian.PutUint32(buf[0:LengthSize], uint32(len(r.Key)))
	if r.Tombstone {
		binary.BigEndian.PutUint32(buf[LengthSize:2*LengthSize], tombstoneSentinel)
		binary.BigEndian.PutUint32(buf[2*LengthSize:HeaderSize], checksum(r.Key, nil))
		copy(buf[HeaderSize:], r.Key)
		return buf
	}

	binary.BigEndian.PutUint32(buf[LengthSize:2*LengthSize], uint32(len(r.Value)))
	binary.BigEndian.PutUint32(buf[2*LengthSize:HeaderSize], checksum(r.Key, r.Value))
	copy(buf[HeaderSize:], r.Key)
	copy(buf[HeaderSize+len(r.Key):], r.Value)
	return buf
}

// header is the parsed fixed-size prefix of a frame.
type header struct {
	keyLen    uint32
	valLen    uint32
	sum       uint32
	tombstone bool
}

func parseHeader(buf []byte) (header, error) {
	h := header{
		keyLen: binary.BigEndian.Uint32(buf[0:LengthSize]),
		sum:    binary.BigEndian.Uint32(buf[2*LengthSize : HeaderSize]),
	}
	vl := binary.BigEndian.Uint32(buf[LengthSize : 2*LengthSize])
	if vl == tombstoneSentinel {
		h.tombstone = true
	} else {
		h.valLen = vl
	}
	if h.keyLen == 0 {
		return header{}, fmt.Errorf("%w: zero key length", ErrCorrupt)
	}
	return h, nil
}

func verify(h header, key, value []byte) (Record, error) {
	if sum := checksum(key, value); sum != h.sum {
		return Record{}, fmt.Errorf("%w: checksum mismatch (stored %08x, computed %08x)", ErrCorrupt, h.sum, sum)
	}
	return Record{Key: key, Value: value, Tombstone: h.tombstone}, nil
}

// Decode parses a frame from buf. Returns the record and the number of bytes
// consumed. Fails with ErrCorrupt when the checksum mismatches or the
// declared lengths disagree with the buffer.
func Decode(buf []byte) (Record, int, error) {
	if len(buf) < HeaderSize {
		return Record{}, 0, fmt.Errorf("%w: frame shorter than header", ErrCorrupt)
	}
	h, err := parseHeader(buf[:HeaderSize])
	if err != nil {
		return Record{}, 0, err
	}

	total := HeaderSize + int(h.keyLen) + int(h.valLen)
	if len(buf) < total {
		return Record{}, 0, fmt.Errorf("%w: declared %d bytes, have %d", ErrCorrupt, total, len(buf))
	}

	key := buf[HeaderSize : HeaderSize+h.keyLen]
	var value []byte
	if !h.tombstone {
		value = buf[HeaderSize+h.keyLen : total]
	}
	rec, err := verify(h, key, value)
	if err != nil {
		return Record{}, 0, err
	}
	return rec, total, nil
}

// ReadFrom reads a single frame from r, used for sequential replay.
// Returns io.EOF at a clean frame boundary and io.ErrUnexpectedEOF when the
// stream ends inside a frame (a truncated trailing write). Checksum and
// length violations return ErrCorrupt; for a checksum mismatch the consumed
// byte count is still reported, so a scanner can locate the bad frame's end.
func ReadFrom(r io.Reader) (Record, int, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		// io.EOF here is a clean boundary; a partial header is a torn write.
		return Record{}, 0, err
	}
	h, err := parseHeader(hdr)
	if err != nil {
		return Record{}, 0, err
	}

	body := make([]byte, int(h.keyLen)+int(h.valLen))
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, 0, err
	}

	key := body[:h.keyLen]
	var value []byte
	if !h.tombstone {
		value = body[h.keyLen:]
	}
	rec, err := verify(h, key, value)
	if err != nil {
		return Record{}, HeaderSize + len(body), err
	}
	return rec, HeaderSize + len(body), nil
}
