package core

import (
	"context"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/nasdf/tessera/codec"
	"github.com/nasdf/tessera/object"
	"github.com/nasdf/tessera/storage"
)

// The key index of a commit is a shallow tree: the root is either a single
// leaf segment, or a segment index whose children are leaf segments.
// Segments are content addressed and shared across commits when unchanged.

// perEntryOverhead approximates the serialization overhead of one index
// entry beyond its variable length fields.
const perEntryOverhead = 64

func entrySize(e *object.IndexEntry) int {
	size := perEntryOverhead + object.IDLen + len(e.ContentID)
	for _, element := range e.Key {
		size += len(element) + 9
	}
	return size
}

// loadIndexChildren returns the leaf segment refs of the index rooted at
// root, in key order. A zero root is the empty index.
func (s *Store) loadIndexChildren(ctx context.Context, root object.ID) ([]object.SegmentRef, error) {
	if root.IsZero() {
		return nil, nil
	}
	segment, index, err := s.loadIndexNode(ctx, root)
	if err != nil {
		return nil, err
	}
	if index != nil {
		return index.Children, nil
	}
	if len(segment.Entries) == 0 {
		return nil, nil
	}
	return []object.SegmentRef{{
		FirstKey: segment.Entries[0].Key,
		LastKey:  segment.Entries[len(segment.Entries)-1].Key,
		Child:    root,
	}}, nil
}

func (s *Store) loadIndexNode(ctx context.Context, id object.ID) (*object.IndexSegment, *object.SegmentIndex, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		var err error
		data, err = s.adapter.Get(ctx, storage.Segments, id)
		return err
	})
	if err != nil {
		return nil, nil, mapStorageErr(err)
	}
	segment, index, err := codec.DecodeIndexNode(data)
	if err != nil {
		return nil, nil, Errorf(CodeInternal, "decode index node %s: %v", id, err)
	}
	return segment, index, nil
}

func (s *Store) loadSegment(ctx context.Context, id object.ID) (*object.IndexSegment, error) {
	segment, index, err := s.loadIndexNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if index != nil {
		return nil, Errorf(CodeInternal, "expected leaf segment at %s", id)
	}
	return segment, nil
}

// applyOperations produces a new index root by applying the operations to
// the index rooted at root. Untouched segments keep their identity.
func (s *Store) applyOperations(ctx context.Context, root object.ID, ops []object.Operation) (object.ID, error) {
	effective := make([]object.Operation, 0, len(ops))
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		if _, ok := seen[op.Key.MapKey()]; ok {
			return object.ZeroID, Errorf(CodeInvalidArgument, "duplicate operation for key %s", op.Key)
		}
		seen[op.Key.MapKey()] = struct{}{}
		if op.Kind != object.OpUnchanged {
			effective = append(effective, op)
		}
	}
	if len(effective) == 0 {
		return root, nil
	}

	children, err := s.loadIndexChildren(ctx, root)
	if err != nil {
		return object.ZeroID, err
	}
	if len(children) == 0 {
		refs, err := s.writeSegments(ctx, applyToEntries(nil, effective))
		if err != nil {
			return object.ZeroID, err
		}
		return s.writeRoot(ctx, refs)
	}

	// Group operations by the child segment they land in. Keys beyond the
	// last segment's range fall into the last segment.
	grouped := make(map[int][]object.Operation)
	for _, op := range effective {
		idx := sort.Search(len(children), func(i int) bool {
			return children[i].LastKey.Compare(op.Key) >= 0
		})
		if idx == len(children) {
			idx = len(children) - 1
		}
		grouped[idx] = append(grouped[idx], op)
	}

	var newChildren []object.SegmentRef
	for i, child := range children {
		ops, ok := grouped[i]
		if !ok {
			newChildren = append(newChildren, child)
			continue
		}
		segment, err := s.loadSegment(ctx, child.Child)
		if err != nil {
			return object.ZeroID, err
		}
		entries := applyToEntries(segment.Entries, ops)
		refs, err := s.writeSegments(ctx, entries)
		if err != nil {
			return object.ZeroID, err
		}
		newChildren = append(newChildren, refs...)
	}
	return s.writeRoot(ctx, newChildren)
}

// writeSegments splits the sorted entries by the configured byte budget and
// writes one segment per chunk.
func (s *Store) writeSegments(ctx context.Context, entries []object.IndexEntry) ([]object.SegmentRef, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	var refs []object.SegmentRef
	start, size := 0, 0
	flush := func(end int) error {
		if end <= start {
			return nil
		}
		chunk := entries[start:end]
		id, err := s.putObject(ctx, storage.Segments, &object.IndexSegment{Entries: chunk})
		if err != nil {
			return err
		}
		refs = append(refs, object.SegmentRef{
			FirstKey: chunk[0].Key,
			LastKey:  chunk[len(chunk)-1].Key,
			Child:    id,
		})
		start, size = end, 0
		return nil
	}
	for i := range entries {
		size += entrySize(&entries[i])
		if size >= s.cfg.SegmentSize {
			if err := flush(i + 1); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(len(entries)); err != nil {
		return nil, err
	}
	return refs, nil
}

func (s *Store) writeRoot(ctx context.Context, children []object.SegmentRef) (object.ID, error) {
	switch len(children) {
	case 0:
		return object.ZeroID, nil
	case 1:
		return children[0].Child, nil
	default:
		return s.putObject(ctx, storage.Segments, &object.SegmentIndex{Children: children})
	}
}

// applyToEntries merges the operations into the sorted entry list.
func applyToEntries(entries []object.IndexEntry, ops []object.Operation) []object.IndexEntry {
	sorted := make([]object.Operation, len(ops))
	copy(sorted, ops)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key.Compare(sorted[j].Key) < 0
	})

	result := make([]object.IndexEntry, 0, len(entries)+len(sorted))
	i, j := 0, 0
	for i < len(entries) || j < len(sorted) {
		var cmp int
		switch {
		case i == len(entries):
			cmp = 1
		case j == len(sorted):
			cmp = -1
		default:
			cmp = entries[i].Key.Compare(sorted[j].Key)
		}
		switch {
		case cmp < 0:
			result = append(result, entries[i])
			i++
		case cmp > 0:
			op := sorted[j]
			if op.Kind == object.OpPut {
				result = append(result, object.IndexEntry{
					Key:         op.Key,
					PayloadRef:  op.PayloadRef,
					ContentID:   op.ContentID,
					ContentType: op.ContentType,
				})
			}
			j++
		default:
			op := sorted[j]
			if op.Kind == object.OpPut {
				result = append(result, object.IndexEntry{
					Key:         op.Key,
					PayloadRef:  op.PayloadRef,
					ContentID:   op.ContentID,
					ContentType: op.ContentType,
				})
			}
			i++
			j++
		}
	}
	return result
}

// lookupIndex returns the entry for the key, or nil if the key is absent.
func (s *Store) lookupIndex(ctx context.Context, root object.ID, key object.Key) (*object.IndexEntry, error) {
	children, err := s.loadIndexChildren(ctx, root)
	if err != nil || len(children) == 0 {
		return nil, err
	}
	idx := sort.Search(len(children), func(i int) bool {
		return children[i].LastKey.Compare(key) >= 0
	})
	if idx == len(children) {
		return nil, nil
	}
	segment, err := s.loadSegment(ctx, children[idx].Child)
	if err != nil {
		return nil, err
	}
	entries := segment.Entries
	pos := sort.Search(len(entries), func(i int) bool {
		return entries[i].Key.Compare(key) >= 0
	})
	if pos == len(entries) || !entries[pos].Key.Equal(key) {
		return nil, nil
	}
	entry := entries[pos]
	return &entry, nil
}

// ScanPage is one page of index entries in key order.
type ScanPage struct {
	// Entries are the page entries.
	Entries []object.IndexEntry
	// Cursor resumes the scan when non-empty.
	Cursor string
}

// scanIndex streams entries of the index rooted at root in key order,
// filtered by prefix. The cursor encodes the segment and offset to resume
// from; it stays valid because every commit references its own immutable
// root.
func (s *Store) scanIndex(ctx context.Context, root object.ID, prefix object.Key, cursor string, limit int) (*ScanPage, error) {
	children, err := s.loadIndexChildren(ctx, root)
	if err != nil {
		return nil, err
	}
	startChild, startOffset := 0, 0
	if cursor != "" {
		segID, offset, err := decodeScanCursor(cursor)
		if err != nil {
			return nil, err
		}
		startChild = -1
		for i, child := range children {
			if child.Child == segID {
				startChild, startOffset = i, offset
				break
			}
		}
		if startChild < 0 {
			return nil, Errorf(CodeInvalidArgument, "stale scan cursor")
		}
	}

	page := &ScanPage{}
	for i := startChild; i < len(children); i++ {
		if len(prefix) > 0 && children[i].FirstKey.Compare(prefix) > 0 && !children[i].FirstKey.HasPrefix(prefix) {
			break
		}
		segment, err := s.loadSegment(ctx, children[i].Child)
		if err != nil {
			return nil, err
		}
		offset := 0
		if i == startChild {
			offset = startOffset
		}
		for j := offset; j < len(segment.Entries); j++ {
			entry := segment.Entries[j]
			if len(prefix) > 0 && !entry.Key.HasPrefix(prefix) {
				if entry.Key.Compare(prefix) > 0 {
					return page, nil
				}
				continue
			}
			if limit > 0 && len(page.Entries) >= limit {
				page.Cursor = encodeScanCursor(children[i].Child, j)
				return page, nil
			}
			page.Entries = append(page.Entries, entry)
		}
	}
	return page, nil
}

func encodeScanCursor(segment object.ID, offset int) string {
	return segment.String() + ":" + strconv.Itoa(offset)
}

func decodeScanCursor(cursor string) (object.ID, int, error) {
	part, offsetPart, ok := strings.Cut(cursor, ":")
	if !ok {
		return object.ZeroID, 0, Errorf(CodeInvalidArgument, "malformed scan cursor")
	}
	raw, err := hex.DecodeString(part)
	if err != nil || len(raw) != object.IDLen {
		return object.ZeroID, 0, Errorf(CodeInvalidArgument, "malformed scan cursor")
	}
	offset, err := strconv.Atoi(offsetPart)
	if err != nil || offset < 0 {
		return object.ZeroID, 0, Errorf(CodeInvalidArgument, "malformed scan cursor")
	}
	var id object.ID
	copy(id[:], raw)
	return id, offset, nil
}

// DiffEntry describes how one key differs between two indexes. A zero ref
// means the key is absent on that side.
type DiffEntry struct {
	Key           object.Key
	FromRef       object.ID
	ToRef         object.ID
	FromContentID string
	ToContentID   string
	FromType      object.ContentType
	ToType        object.ContentType
}

// diffRoots compares two index roots. Segments with identical IDs on both
// sides are skipped without loading, since identical IDs imply identical
// entries.
func (s *Store) diffRoots(ctx context.Context, from, to object.ID) ([]DiffEntry, error) {
	if from == to {
		return nil, nil
	}
	fromChildren, err := s.loadIndexChildren(ctx, from)
	if err != nil {
		return nil, err
	}
	toChildren, err := s.loadIndexChildren(ctx, to)
	if err != nil {
		return nil, err
	}
	fromSet := make(map[object.ID]struct{}, len(fromChildren))
	for _, child := range fromChildren {
		fromSet[child.Child] = struct{}{}
	}
	toSet := make(map[object.ID]struct{}, len(toChildren))
	for _, child := range toChildren {
		toSet[child.Child] = struct{}{}
	}

	fromEntries, err := s.collectEntries(ctx, fromChildren, toSet)
	if err != nil {
		return nil, err
	}
	toEntries, err := s.collectEntries(ctx, toChildren, fromSet)
	if err != nil {
		return nil, err
	}

	var result []DiffEntry
	i, j := 0, 0
	for i < len(fromEntries) || j < len(toEntries) {
		var cmp int
		switch {
		case i == len(fromEntries):
			cmp = 1
		case j == len(toEntries):
			cmp = -1
		default:
			cmp = fromEntries[i].Key.Compare(toEntries[j].Key)
		}
		switch {
		case cmp < 0:
			e := fromEntries[i]
			result = append(result, DiffEntry{
				Key: e.Key, FromRef: e.PayloadRef, FromContentID: e.ContentID, FromType: e.ContentType,
			})
			i++
		case cmp > 0:
			e := toEntries[j]
			result = append(result, DiffEntry{
				Key: e.Key, ToRef: e.PayloadRef, ToContentID: e.ContentID, ToType: e.ContentType,
			})
			j++
		default:
			fe, te := fromEntries[i], toEntries[j]
			if fe.PayloadRef != te.PayloadRef {
				result = append(result, DiffEntry{
					Key:     fe.Key,
					FromRef: fe.PayloadRef, FromContentID: fe.ContentID, FromType: fe.ContentType,
					ToRef: te.PayloadRef, ToContentID: te.ContentID, ToType: te.ContentType,
				})
			}
			i++
			j++
		}
	}
	return result, nil
}

// collectEntries loads the entries of all children whose segment does not
// also appear on the other side.
func (s *Store) collectEntries(ctx context.Context, children []object.SegmentRef, skip map[object.ID]struct{}) ([]object.IndexEntry, error) {
	var entries []object.IndexEntry
	for _, child := range children {
		if _, ok := skip[child.Child]; ok {
			continue
		}
		segment, err := s.loadSegment(ctx, child.Child)
		if err != nil {
			return nil, err
		}
		entries = append(entries, segment.Entries...)
	}
	return entries, nil
}
