package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/nasdf/tessera/object"
)

type Encoder struct {
	w *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{bufio.NewWriter(w)}
}

func (e *Encoder) Flush() error {
	return e.w.Flush()
}

func (e *Encoder) Encode(value any) error {
	switch t := value.(type) {
	case *object.Commit:
		return e.EncodeCommit(t)
	case *object.Content:
		return e.EncodeContent(t)
	case *object.IndexSegment:
		return e.EncodeIndexSegment(t)
	case *object.SegmentIndex:
		return e.EncodeSegmentIndex(t)
	case *object.Reference:
		return e.EncodeReference(t)
	case *object.RepoDescriptor:
		return e.EncodeRepoDescriptor(t)
	case *object.RefNameSegment:
		return e.EncodeRefNameSegment(t)
	case *object.TaskEntry:
		return e.EncodeTaskEntry(t)
	case object.ID:
		return e.EncodeID(t)
	case object.Key:
		return e.EncodeKey(t)
	case []byte:
		return e.EncodeBytes(t)
	case string:
		return e.EncodeString(t)
	case int64:
		return e.EncodeInt64(t)
	case bool:
		return e.EncodeBool(t)
	default:
		return fmt.Errorf("no encoder for %T", value)
	}
}

func (e *Encoder) EncodeCommit(value *object.Commit) error {
	if err := e.w.WriteByte(kindCommit); err != nil {
		return err
	}
	if err := e.encodeIDList(value.Parents); err != nil {
		return err
	}
	if err := e.EncodeString(value.Author); err != nil {
		return err
	}
	if err := e.EncodeString(value.Committer); err != nil {
		return err
	}
	if err := e.encodeTime(value.CommitTime); err != nil {
		return err
	}
	if err := e.EncodeString(value.Message); err != nil {
		return err
	}
	if err := e.writeListHeader(len(value.Operations)); err != nil {
		return err
	}
	for i := range value.Operations {
		if err := e.encodeOperation(&value.Operations[i]); err != nil {
			return err
		}
	}
	if err := e.EncodeID(value.KeyIndexRoot); err != nil {
		return err
	}
	return e.encodeStringMap(value.Metadata)
}

func (e *Encoder) encodeOperation(op *object.Operation) error {
	if err := e.EncodeKey(op.Key); err != nil {
		return err
	}
	if err := e.w.WriteByte(byte(op.Kind)); err != nil {
		return err
	}
	if err := e.EncodeID(op.PayloadRef); err != nil {
		return err
	}
	if err := e.EncodeString(op.ContentID); err != nil {
		return err
	}
	return e.w.WriteByte(byte(op.ContentType))
}

func (e *Encoder) EncodeContent(value *object.Content) error {
	if err := e.w.WriteByte(kindContent); err != nil {
		return err
	}
	if err := e.EncodeString(value.ContentID); err != nil {
		return err
	}
	if err := e.w.WriteByte(byte(value.Type)); err != nil {
		return err
	}
	switch value.Type {
	case object.ContentIcebergTable:
		if value.Table == nil {
			return fmt.Errorf("table content has no table body")
		}
		if err := e.EncodeString(value.Table.MetadataLocation); err != nil {
			return err
		}
		if err := e.EncodeInt64(value.Table.SnapshotID); err != nil {
			return err
		}
		if err := e.EncodeInt64(value.Table.SchemaID); err != nil {
			return err
		}
		if err := e.EncodeInt64(value.Table.SpecID); err != nil {
			return err
		}
		return e.EncodeInt64(value.Table.SortOrderID)
	case object.ContentIcebergView:
		if value.View == nil {
			return fmt.Errorf("view content has no view body")
		}
		if err := e.EncodeString(value.View.MetadataLocation); err != nil {
			return err
		}
		if err := e.EncodeInt64(value.View.VersionID); err != nil {
			return err
		}
		return e.EncodeInt64(value.View.SchemaID)
	case object.ContentNamespace:
		if value.Namespace == nil {
			return fmt.Errorf("namespace content has no namespace body")
		}
		return e.encodeStringMap(value.Namespace.Properties)
	case object.ContentUDF:
		if value.UDF == nil {
			return fmt.Errorf("udf content has no udf body")
		}
		if err := e.EncodeString(value.UDF.Dialect); err != nil {
			return err
		}
		return e.EncodeString(value.UDF.Body)
	default:
		return fmt.Errorf("no encoder for content type %d", value.Type)
	}
}

func (e *Encoder) EncodeIndexSegment(value *object.IndexSegment) error {
	if err := e.w.WriteByte(kindIndexSegment); err != nil {
		return err
	}
	if err := e.writeListHeader(len(value.Entries)); err != nil {
		return err
	}
	for i := range value.Entries {
		entry := &value.Entries[i]
		if err := e.EncodeKey(entry.Key); err != nil {
			return err
		}
		if err := e.EncodeID(entry.PayloadRef); err != nil {
			return err
		}
		if err := e.EncodeString(entry.ContentID); err != nil {
			return err
		}
		if err := e.w.WriteByte(byte(entry.ContentType)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) EncodeSegmentIndex(value *object.SegmentIndex) error {
	if err := e.w.WriteByte(kindSegmentIndex); err != nil {
		return err
	}
	if err := e.writeListHeader(len(value.Children)); err != nil {
		return err
	}
	for i := range value.Children {
		child := &value.Children[i]
		if err := e.EncodeKey(child.FirstKey); err != nil {
			return err
		}
		if err := e.EncodeKey(child.LastKey); err != nil {
			return err
		}
		if err := e.EncodeID(child.Child); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) EncodeReference(value *object.Reference) error {
	if err := e.w.WriteByte(kindReference); err != nil {
		return err
	}
	if err := e.EncodeString(value.Name); err != nil {
		return err
	}
	if err := e.w.WriteByte(byte(value.Kind)); err != nil {
		return err
	}
	if err := e.EncodeID(value.Head); err != nil {
		return err
	}
	return e.encodeTime(value.CreatedAt)
}

func (e *Encoder) EncodeRepoDescriptor(value *object.RepoDescriptor) error {
	if err := e.w.WriteByte(kindRepoDescriptor); err != nil {
		return err
	}
	if err := e.EncodeString(value.DefaultBranch); err != nil {
		return err
	}
	if err := e.encodeTime(value.CreatedAt); err != nil {
		return err
	}
	return e.encodeStringMap(value.Properties)
}

func (e *Encoder) EncodeRefNameSegment(value *object.RefNameSegment) error {
	if err := e.w.WriteByte(kindRefNameSegment); err != nil {
		return err
	}
	if err := e.writeListHeader(len(value.Names)); err != nil {
		return err
	}
	for _, name := range value.Names {
		if err := e.EncodeString(name); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) EncodeTaskEntry(value *object.TaskEntry) error {
	if err := e.w.WriteByte(kindTaskEntry); err != nil {
		return err
	}
	if err := e.w.WriteByte(byte(value.State)); err != nil {
		return err
	}
	if err := e.EncodeBytes(value.Value); err != nil {
		return err
	}
	if err := e.EncodeString(value.ErrorMessage); err != nil {
		return err
	}
	if err := e.encodeTime(value.StartedAt); err != nil {
		return err
	}
	return e.encodeTime(value.Lease)
}

func (e *Encoder) EncodeID(value object.ID) error {
	if err := e.w.WriteByte(kindID); err != nil {
		return err
	}
	_, err := e.w.Write(value[:])
	return err
}

func (e *Encoder) EncodeKey(value object.Key) error {
	if err := e.w.WriteByte(kindKey); err != nil {
		return err
	}
	if err := e.writeUint64(uint64(len(value))); err != nil {
		return err
	}
	for _, element := range value {
		if err := e.EncodeString(element); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) EncodeBytes(value []byte) error {
	if err := e.w.WriteByte(kindBytes); err != nil {
		return err
	}
	if err := e.writeUint64(uint64(len(value))); err != nil {
		return err
	}
	_, err := e.w.Write(value)
	return err
}

func (e *Encoder) EncodeString(value string) error {
	if err := e.w.WriteByte(kindString); err != nil {
		return err
	}
	if err := e.writeUint64(uint64(len(value))); err != nil {
		return err
	}
	_, err := e.w.Write([]byte(value))
	return err
}

func (e *Encoder) EncodeInt64(value int64) error {
	if err := e.w.WriteByte(kindInt64); err != nil {
		return err
	}
	return e.writeUint64(uint64(value))
}

func (e *Encoder) EncodeBool(value bool) error {
	if err := e.w.WriteByte(kindBool); err != nil {
		return err
	}
	if value {
		return e.w.WriteByte(1)
	}
	return e.w.WriteByte(0)
}

func (e *Encoder) encodeIDList(value []object.ID) error {
	if err := e.writeListHeader(len(value)); err != nil {
		return err
	}
	for _, id := range value {
		if err := e.EncodeID(id); err != nil {
			return err
		}
	}
	return nil
}

// encodeStringMap writes map entries sorted by key so that the output is
// independent of map iteration order.
func (e *Encoder) encodeStringMap(value map[string]string) error {
	if err := e.w.WriteByte(kindMap); err != nil {
		return err
	}
	if err := e.writeUint64(uint64(len(value))); err != nil {
		return err
	}
	keys := make([]string, 0, len(value))
	for k := range value {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := e.EncodeString(k); err != nil {
			return err
		}
		if err := e.EncodeString(value[k]); err != nil {
			return err
		}
	}
	return nil
}

// encodeTime writes a wall-clock time as microseconds since the unix epoch.
func (e *Encoder) encodeTime(value time.Time) error {
	if value.IsZero() {
		return e.EncodeInt64(0)
	}
	return e.EncodeInt64(value.UnixMicro())
}

func (e *Encoder) writeListHeader(length int) error {
	if err := e.w.WriteByte(kindList); err != nil {
		return err
	}
	return e.writeUint64(uint64(length))
}

func (e *Encoder) writeUint64(value uint64) error {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], value)
	_, err := e.w.Write(data[:])
	return err
}
