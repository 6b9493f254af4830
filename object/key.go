package object

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// MaxKeyElements is the maximum number of elements in a key.
	MaxKeyElements = 20
	// MaxKeyLength is the maximum total length of a key in bytes.
	MaxKeyLength = 500
	// MaxKeyElementLength is the maximum length of a single key element in bytes.
	MaxKeyElementLength = 255
)

// Key identifies a catalog entity by its namespace path plus leaf name.
// Elements are case-sensitive and compared element-wise.
type Key []string

// NewKey returns a key made of the given elements.
func NewKey(elements ...string) Key {
	return Key(elements)
}

// Validate returns an error if the key violates the element or length limits.
func (k Key) Validate() error {
	if len(k) == 0 {
		return fmt.Errorf("key must not be empty")
	}
	if len(k) > MaxKeyElements {
		return fmt.Errorf("key has %d elements, maximum is %d", len(k), MaxKeyElements)
	}
	total := 0
	for _, e := range k {
		if len(e) == 0 {
			return fmt.Errorf("key element must not be empty")
		}
		if len(e) > MaxKeyElementLength {
			return fmt.Errorf("key element exceeds %d bytes", MaxKeyElementLength)
		}
		total += len(e)
	}
	if total > MaxKeyLength {
		return fmt.Errorf("key exceeds %d bytes", MaxKeyLength)
	}
	return nil
}

// Equal returns true if the given key is equal to this key.
func (k Key) Equal(other Key) bool {
	return k.Compare(other) == 0
}

// Compare orders keys element-wise, shorter prefixes first.
func (k Key) Compare(other Key) int {
	for i := 0; i < len(k) && i < len(other); i++ {
		if c := strings.Compare(k[i], other[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(k) < len(other):
		return -1
	case len(k) > len(other):
		return 1
	default:
		return 0
	}
}

// HasPrefix returns true if the key starts with all elements of the given prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, e := range prefix {
		if k[i] != e {
			return false
		}
	}
	return true
}

// String joins the key elements with dots. The rendering is for display
// and may collide for elements containing dots; use MapKey for identity.
func (k Key) String() string {
	return strings.Join(k, ".")
}

// MapKey returns an unambiguous rendering for use as a map key. Each
// element is length prefixed, so ["a.b"] and ["a","b"] never collide.
func (k Key) MapKey() string {
	var b strings.Builder
	for _, e := range k {
		b.WriteString(strconv.Itoa(len(e)))
		b.WriteByte(':')
		b.WriteString(e)
	}
	return b.String()
}
