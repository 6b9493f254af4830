// Package codec implements the canonical binary serialization for all
// stored objects. The encoding is deterministic: fields are written in a
// fixed order, integers are big-endian, strings and byte slices are length
// prefixed, and map keys are sorted bytewise. The ID of a stored object is
// the SHA-256 hash of a per-type domain tag and the canonical bytes.
package codec

import (
	"bytes"
	"fmt"

	"github.com/nasdf/tessera/object"
)

const (
	kindString = byte(1)
	kindBytes  = byte(2)
	kindBool   = byte(3)
	kindInt64  = byte(4)
	kindMap    = byte(6)
	kindList   = byte(7)
	kindID     = byte(8)
	kindKey    = byte(9)

	kindCommit         = byte(100)
	kindContent        = byte(101)
	kindIndexSegment   = byte(102)
	kindSegmentIndex   = byte(103)
	kindReference      = byte(104)
	kindRepoDescriptor = byte(105)
	kindRefNameSegment = byte(106)
	kindTaskEntry      = byte(107)
)

// DomainTag returns the ID domain tag for the given object value.
func DomainTag(value any) (string, error) {
	switch value.(type) {
	case *object.Commit:
		return "Commit", nil
	case *object.Content:
		return "Content", nil
	case *object.IndexSegment:
		return "IndexSegment", nil
	case *object.SegmentIndex:
		return "SegmentIndex", nil
	case *object.Reference:
		return "Reference", nil
	case *object.RepoDescriptor:
		return "RepoDescriptor", nil
	case *object.RefNameSegment:
		return "RefNameSegment", nil
	case *object.TaskEntry:
		return "TaskEntry", nil
	default:
		return "", fmt.Errorf("no domain tag for %T", value)
	}
}

// Encode returns the canonical bytes for the given object value.
func Encode(value any) ([]byte, error) {
	buff := bytes.NewBuffer(nil)
	enc := NewEncoder(buff)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

// EncodeWithID returns the canonical bytes for the given object value along
// with its content addressed ID.
func EncodeWithID(value any) (object.ID, []byte, error) {
	tag, err := DomainTag(value)
	if err != nil {
		return object.ZeroID, nil, err
	}
	data, err := Encode(value)
	if err != nil {
		return object.ZeroID, nil, err
	}
	return object.Sum(tag, data), data, nil
}

// DecodeCommit decodes a commit from its canonical bytes.
func DecodeCommit(data []byte) (*object.Commit, error) {
	return NewDecoder(bytes.NewReader(data)).DecodeCommit()
}

// DecodeContent decodes a content blob from its canonical bytes.
func DecodeContent(data []byte) (*object.Content, error) {
	return NewDecoder(bytes.NewReader(data)).DecodeContent()
}

// DecodeReference decodes a reference from its canonical bytes.
func DecodeReference(data []byte) (*object.Reference, error) {
	return NewDecoder(bytes.NewReader(data)).DecodeReference()
}

// DecodeRepoDescriptor decodes a repository descriptor from its canonical bytes.
func DecodeRepoDescriptor(data []byte) (*object.RepoDescriptor, error) {
	return NewDecoder(bytes.NewReader(data)).DecodeRepoDescriptor()
}

// DecodeRefNameSegment decodes a reference name segment from its canonical bytes.
func DecodeRefNameSegment(data []byte) (*object.RefNameSegment, error) {
	return NewDecoder(bytes.NewReader(data)).DecodeRefNameSegment()
}

// DecodeTaskEntry decodes a task entry from its canonical bytes.
func DecodeTaskEntry(data []byte) (*object.TaskEntry, error) {
	return NewDecoder(bytes.NewReader(data)).DecodeTaskEntry()
}

// DecodeIndexNode decodes either an index segment or a segment index from
// its canonical bytes. Exactly one of the results is non-nil.
func DecodeIndexNode(data []byte) (*object.IndexSegment, *object.SegmentIndex, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("empty index node")
	}
	dec := NewDecoder(bytes.NewReader(data))
	switch data[0] {
	case kindIndexSegment:
		segment, err := dec.DecodeIndexSegment()
		return segment, nil, err
	case kindSegmentIndex:
		index, err := dec.DecodeSegmentIndex()
		return nil, index, err
	default:
		return nil, nil, fmt.Errorf("unexpected index node kind %d", data[0])
	}
}
