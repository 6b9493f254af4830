package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/nasdf/tessera/object"
)

type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{bufio.NewReader(r)}
}

func (d *Decoder) DecodeCommit() (*object.Commit, error) {
	if err := d.expect(kindCommit); err != nil {
		return nil, err
	}
	commit := &object.Commit{}
	parents, err := d.decodeIDList()
	if err != nil {
		return nil, err
	}
	commit.Parents = parents
	if commit.Author, err = d.DecodeString(); err != nil {
		return nil, err
	}
	if commit.Committer, err = d.DecodeString(); err != nil {
		return nil, err
	}
	if commit.CommitTime, err = d.decodeTime(); err != nil {
		return nil, err
	}
	if commit.Message, err = d.DecodeString(); err != nil {
		return nil, err
	}
	count, err := d.readListHeader()
	if err != nil {
		return nil, err
	}
	commit.Operations = make([]object.Operation, count)
	for i := range commit.Operations {
		if err := d.decodeOperation(&commit.Operations[i]); err != nil {
			return nil, err
		}
	}
	if commit.KeyIndexRoot, err = d.DecodeID(); err != nil {
		return nil, err
	}
	if commit.Metadata, err = d.decodeStringMap(); err != nil {
		return nil, err
	}
	return commit, nil
}

func (d *Decoder) decodeOperation(op *object.Operation) error {
	var err error
	if op.Key, err = d.DecodeKey(); err != nil {
		return err
	}
	kind, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	op.Kind = object.OpKind(kind)
	if op.PayloadRef, err = d.DecodeID(); err != nil {
		return err
	}
	if op.ContentID, err = d.DecodeString(); err != nil {
		return err
	}
	contentType, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	op.ContentType = object.ContentType(contentType)
	return nil
}

func (d *Decoder) DecodeContent() (*object.Content, error) {
	if err := d.expect(kindContent); err != nil {
		return nil, err
	}
	content := &object.Content{}
	var err error
	if content.ContentID, err = d.DecodeString(); err != nil {
		return nil, err
	}
	contentType, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	content.Type = object.ContentType(contentType)
	switch content.Type {
	case object.ContentIcebergTable:
		table := &object.TableContent{}
		if table.MetadataLocation, err = d.DecodeString(); err != nil {
			return nil, err
		}
		if table.SnapshotID, err = d.DecodeInt64(); err != nil {
			return nil, err
		}
		if table.SchemaID, err = d.DecodeInt64(); err != nil {
			return nil, err
		}
		if table.SpecID, err = d.DecodeInt64(); err != nil {
			return nil, err
		}
		if table.SortOrderID, err = d.DecodeInt64(); err != nil {
			return nil, err
		}
		content.Table = table
	case object.ContentIcebergView:
		view := &object.ViewContent{}
		if view.MetadataLocation, err = d.DecodeString(); err != nil {
			return nil, err
		}
		if view.VersionID, err = d.DecodeInt64(); err != nil {
			return nil, err
		}
		if view.SchemaID, err = d.DecodeInt64(); err != nil {
			return nil, err
		}
		content.View = view
	case object.ContentNamespace:
		properties, err := d.decodeStringMap()
		if err != nil {
			return nil, err
		}
		content.Namespace = &object.NamespaceContent{Properties: properties}
	case object.ContentUDF:
		udf := &object.UDFContent{}
		if udf.Dialect, err = d.DecodeString(); err != nil {
			return nil, err
		}
		if udf.Body, err = d.DecodeString(); err != nil {
			return nil, err
		}
		content.UDF = udf
	default:
		return nil, fmt.Errorf("no decoder for content type %d", content.Type)
	}
	return content, nil
}

func (d *Decoder) DecodeIndexSegment() (*object.IndexSegment, error) {
	if err := d.expect(kindIndexSegment); err != nil {
		return nil, err
	}
	count, err := d.readListHeader()
	if err != nil {
		return nil, err
	}
	segment := &object.IndexSegment{Entries: make([]object.IndexEntry, count)}
	for i := range segment.Entries {
		entry := &segment.Entries[i]
		if entry.Key, err = d.DecodeKey(); err != nil {
			return nil, err
		}
		if entry.PayloadRef, err = d.DecodeID(); err != nil {
			return nil, err
		}
		if entry.ContentID, err = d.DecodeString(); err != nil {
			return nil, err
		}
		contentType, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		entry.ContentType = object.ContentType(contentType)
	}
	return segment, nil
}

func (d *Decoder) DecodeSegmentIndex() (*object.SegmentIndex, error) {
	if err := d.expect(kindSegmentIndex); err != nil {
		return nil, err
	}
	count, err := d.readListHeader()
	if err != nil {
		return nil, err
	}
	index := &object.SegmentIndex{Children: make([]object.SegmentRef, count)}
	for i := range index.Children {
		child := &index.Children[i]
		if child.FirstKey, err = d.DecodeKey(); err != nil {
			return nil, err
		}
		if child.LastKey, err = d.DecodeKey(); err != nil {
			return nil, err
		}
		if child.Child, err = d.DecodeID(); err != nil {
			return nil, err
		}
	}
	return index, nil
}

func (d *Decoder) DecodeReference() (*object.Reference, error) {
	if err := d.expect(kindReference); err != nil {
		return nil, err
	}
	ref := &object.Reference{}
	var err error
	if ref.Name, err = d.DecodeString(); err != nil {
		return nil, err
	}
	kind, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	ref.Kind = object.RefKind(kind)
	if ref.Head, err = d.DecodeID(); err != nil {
		return nil, err
	}
	if ref.CreatedAt, err = d.decodeTime(); err != nil {
		return nil, err
	}
	return ref, nil
}

func (d *Decoder) DecodeRepoDescriptor() (*object.RepoDescriptor, error) {
	if err := d.expect(kindRepoDescriptor); err != nil {
		return nil, err
	}
	desc := &object.RepoDescriptor{}
	var err error
	if desc.DefaultBranch, err = d.DecodeString(); err != nil {
		return nil, err
	}
	if desc.CreatedAt, err = d.decodeTime(); err != nil {
		return nil, err
	}
	if desc.Properties, err = d.decodeStringMap(); err != nil {
		return nil, err
	}
	return desc, nil
}

func (d *Decoder) DecodeRefNameSegment() (*object.RefNameSegment, error) {
	if err := d.expect(kindRefNameSegment); err != nil {
		return nil, err
	}
	count, err := d.readListHeader()
	if err != nil {
		return nil, err
	}
	segment := &object.RefNameSegment{Names: make([]string, count)}
	for i := range segment.Names {
		if segment.Names[i], err = d.DecodeString(); err != nil {
			return nil, err
		}
	}
	return segment, nil
}

func (d *Decoder) DecodeTaskEntry() (*object.TaskEntry, error) {
	if err := d.expect(kindTaskEntry); err != nil {
		return nil, err
	}
	entry := &object.TaskEntry{}
	state, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	entry.State = object.TaskState(state)
	if entry.Value, err = d.DecodeBytes(); err != nil {
		return nil, err
	}
	if entry.ErrorMessage, err = d.DecodeString(); err != nil {
		return nil, err
	}
	if entry.StartedAt, err = d.decodeTime(); err != nil {
		return nil, err
	}
	if entry.Lease, err = d.decodeTime(); err != nil {
		return nil, err
	}
	return entry, nil
}

func (d *Decoder) DecodeID() (object.ID, error) {
	var id object.ID
	if err := d.expect(kindID); err != nil {
		return id, err
	}
	if _, err := io.ReadFull(d.r, id[:]); err != nil {
		return id, err
	}
	return id, nil
}

func (d *Decoder) DecodeKey() (object.Key, error) {
	if err := d.expect(kindKey); err != nil {
		return nil, err
	}
	count, err := d.readUint64()
	if err != nil {
		return nil, err
	}
	key := make(object.Key, count)
	for i := range key {
		if key[i], err = d.DecodeString(); err != nil {
			return nil, err
		}
	}
	return key, nil
}

func (d *Decoder) DecodeBytes() ([]byte, error) {
	if err := d.expect(kindBytes); err != nil {
		return nil, err
	}
	length, err := d.readUint64()
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (d *Decoder) DecodeString() (string, error) {
	if err := d.expect(kindString); err != nil {
		return "", err
	}
	length, err := d.readUint64()
	if err != nil {
		return "", err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return "", err
	}
	return string(data), nil
}

func (d *Decoder) DecodeInt64() (int64, error) {
	if err := d.expect(kindInt64); err != nil {
		return 0, err
	}
	value, err := d.readUint64()
	return int64(value), err
}

func (d *Decoder) DecodeBool() (bool, error) {
	if err := d.expect(kindBool); err != nil {
		return false, err
	}
	value, err := d.r.ReadByte()
	if err != nil {
		return false, err
	}
	return value == 1, nil
}

func (d *Decoder) decodeIDList() ([]object.ID, error) {
	count, err := d.readListHeader()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	ids := make([]object.ID, count)
	for i := range ids {
		if ids[i], err = d.DecodeID(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (d *Decoder) decodeStringMap() (map[string]string, error) {
	if err := d.expect(kindMap); err != nil {
		return nil, err
	}
	count, err := d.readUint64()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	result := make(map[string]string, count)
	for i := uint64(0); i < count; i++ {
		k, err := d.DecodeString()
		if err != nil {
			return nil, err
		}
		v, err := d.DecodeString()
		if err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, nil
}

func (d *Decoder) decodeTime() (time.Time, error) {
	micros, err := d.DecodeInt64()
	if err != nil {
		return time.Time{}, err
	}
	if micros == 0 {
		return time.Time{}, nil
	}
	return time.UnixMicro(micros).UTC(), nil
}

func (d *Decoder) readListHeader() (uint64, error) {
	if err := d.expect(kindList); err != nil {
		return 0, err
	}
	return d.readUint64()
}

func (d *Decoder) readUint64() (uint64, error) {
	var data [8]byte
	if _, err := io.ReadFull(d.r, data[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(data[:]), nil
}

func (d *Decoder) expect(kind byte) error {
	actual, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	if actual != kind {
		return fmt.Errorf("expected kind %d, got %d", kind, actual)
	}
	return nil
}
