package object

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// IDLen is the length of an object ID in bytes.
const IDLen = sha256.Size

// ID is the unique content hash of a stored object.
type ID [IDLen]byte

// ZeroID is the ID of the absent object. It is used as the key index root
// of an empty index and never stored.
var ZeroID ID

// Sum returns the ID for the given canonical bytes in the given domain.
//
// The domain tag keeps IDs of different object kinds disjoint even when
// their canonical bytes happen to collide.
func Sum(domain string, data []byte) ID {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write(data)
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

// ParseID parses the lower-case hex representation of an ID.
func ParseID(s string) (ID, error) {
	var id ID
	if len(s) != IDLen*2 {
		return id, fmt.Errorf("invalid id length %d", len(s))
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	copy(id[:], data)
	return id, nil
}

// IsZero returns true if the ID is the zero ID.
func (id ID) IsZero() bool {
	return id == ZeroID
}

// Equal returns true if the given ID is equal to this ID.
func (id ID) Equal(other ID) bool {
	return id == other
}

// Compare orders IDs lexicographically on the raw bytes.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// String returns the lower-case hex representation of the ID.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Hasher derives a stable ID from a domain tag and an ordered sequence of
// field values. Every value is length-prefixed so that adjacent fields can
// never be confused for one another.
type Hasher struct {
	domain string
	buf    bytes.Buffer
}

// NewHasher returns a Hasher for the given domain tag.
func NewHasher(domain string) *Hasher {
	return &Hasher{domain: domain}
}

// String mixes a string field into the hash.
func (h *Hasher) String(value string) *Hasher {
	return h.Bytes([]byte(value))
}

// Bytes mixes a byte field into the hash.
func (h *Hasher) Bytes(value []byte) *Hasher {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(value)))
	h.buf.Write(length[:])
	h.buf.Write(value)
	return h
}

// Int64 mixes an integer field into the hash.
func (h *Hasher) Int64(value int64) *Hasher {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], uint64(value))
	return h.Bytes(data[:])
}

// ID returns the derived ID for the accumulated fields.
func (h *Hasher) ID() ID {
	return Sum(h.domain, h.buf.Bytes())
}
