package core

import (
	"context"
	"hash/fnv"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/nasdf/tessera/codec"
	"github.com/nasdf/tessera/object"
	"github.com/nasdf/tessera/storage"
)

// nameRegisterAttempts bounds the best-effort CAS loop on the name
// registry. The refs bucket stays authoritative, so giving up only leaves
// the registry temporarily stale.
const nameRegisterAttempts = 8

// CreateRef creates a branch or tag pointing at the given commit.
func (s *Store) CreateRef(ctx context.Context, name string, kind object.RefKind, head object.ID) (*object.Reference, error) {
	if name == "" {
		return nil, Errorf(CodeInvalidArgument, "reference name must not be empty")
	}
	if kind != object.KindBranch && kind != object.KindTag {
		return nil, Errorf(CodeInvalidArgument, "cannot create %s reference", kind)
	}
	if !head.IsZero() {
		if _, err := s.FetchCommit(ctx, head); err != nil {
			return nil, err
		}
	}
	ref := &object.Reference{
		Name:      name,
		Kind:      kind,
		Head:      head,
		CreatedAt: s.clock.Now().UTC(),
	}
	data, err := codec.Encode(ref)
	if err != nil {
		return nil, Errorf(CodeInternal, "encode reference: %v", err)
	}
	err = s.retry(ctx, func() error {
		return s.adapter.CompareAndSwap(ctx, storage.Refs, object.RefID(name), nil, data)
	})
	if err != nil {
		if storage.ErrCasMismatch.Has(err) {
			return nil, Errorf(CodeAlreadyExists, "reference %q already exists", name)
		}
		return nil, mapStorageErr(err)
	}
	s.registerName(ctx, name, true)
	s.log.Debug("created reference",
		zap.String("name", name),
		zap.Stringer("kind", kind),
		zap.Stringer("head", head))
	return ref, nil
}

// GetRef returns the reference with the given name.
func (s *Store) GetRef(ctx context.Context, name string) (*object.Reference, error) {
	ref, _, err := s.getRefRaw(ctx, name)
	return ref, err
}

// getRefRaw returns the reference plus its stored bytes for CAS use.
func (s *Store) getRefRaw(ctx context.Context, name string) (*object.Reference, []byte, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		var err error
		data, err = s.adapter.Get(ctx, storage.Refs, object.RefID(name))
		return err
	})
	if err != nil {
		if storage.ErrNotFound.Has(err) {
			return nil, nil, Errorf(CodeNotFound, "reference %q not found", name)
		}
		return nil, nil, mapStorageErr(err)
	}
	ref, err := codec.DecodeReference(data)
	if err != nil {
		return nil, nil, Errorf(CodeInternal, "decode reference %q: %v", name, err)
	}
	return ref, data, nil
}

// UpdateRef advances the reference head from expected to next via CAS.
func (s *Store) UpdateRef(ctx context.Context, name string, expected, next object.ID) error {
	ref, data, err := s.getRefRaw(ctx, name)
	if err != nil {
		return err
	}
	if ref.Kind == object.KindTag && !s.cfg.AllowTagReassign {
		return Errorf(CodeInvalidArgument, "tag %q is immutable", name)
	}
	if ref.Head != expected {
		return Errorf(CodeReferenceConflict, "reference %q moved from %s", name, expected)
	}
	updated := *ref
	updated.Head = next
	nextData, err := codec.Encode(&updated)
	if err != nil {
		return Errorf(CodeInternal, "encode reference: %v", err)
	}
	err = s.retry(ctx, func() error {
		return s.adapter.CompareAndSwap(ctx, storage.Refs, object.RefID(name), data, nextData)
	})
	if err != nil {
		return mapStorageErr(err)
	}
	return nil
}

// DeleteRef removes the reference if its head still matches expected.
func (s *Store) DeleteRef(ctx context.Context, name string, expected object.ID) error {
	ref, data, err := s.getRefRaw(ctx, name)
	if err != nil {
		return err
	}
	if ref.Head != expected {
		return Errorf(CodeReferenceConflict, "reference %q moved from %s", name, expected)
	}
	err = s.retry(ctx, func() error {
		return s.adapter.CompareAndSwap(ctx, storage.Refs, object.RefID(name), data, nil)
	})
	if err != nil {
		return mapStorageErr(err)
	}
	s.registerName(ctx, name, false)
	return nil
}

// RefPage is one page of references.
type RefPage struct {
	Refs []*object.Reference
	// Cursor resumes the listing when non-empty.
	Cursor string
}

// ListRefs returns references whose name starts with filter, in name
// order. The name registry may lag behind creates and deletes, so every
// name is re-verified against the refs bucket before it is returned.
func (s *Store) ListRefs(ctx context.Context, filter string, cursor string, limit int) (*RefPage, error) {
	var names []string
	for shard := 0; shard < s.cfg.RefNameShards; shard++ {
		segment, _, err := s.loadNameSegment(ctx, shard)
		if err != nil {
			return nil, err
		}
		if segment != nil {
			names = append(names, segment.Names...)
		}
	}
	slices.Sort(names)
	names = slices.Compact(names)

	page := &RefPage{}
	for _, name := range names {
		if filter != "" && !strings.HasPrefix(name, filter) {
			continue
		}
		if cursor != "" && name <= cursor {
			continue
		}
		if limit > 0 && len(page.Refs) >= limit {
			page.Cursor = page.Refs[len(page.Refs)-1].Name
			return page, nil
		}
		ref, err := s.GetRef(ctx, name)
		if err != nil {
			if CodeOf(err) == CodeNotFound {
				// Stale registry entry, skip it.
				continue
			}
			return nil, err
		}
		page.Refs = append(page.Refs, ref)
	}
	return page, nil
}

func (s *Store) loadNameSegment(ctx context.Context, shard int) (*object.RefNameSegment, []byte, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		var err error
		data, err = s.adapter.Get(ctx, storage.RefNames, object.RefNameSegmentID(shard))
		return err
	})
	if err != nil {
		if storage.ErrNotFound.Has(err) {
			return nil, nil, nil
		}
		return nil, nil, mapStorageErr(err)
	}
	segment, err := codec.DecodeRefNameSegment(data)
	if err != nil {
		return nil, nil, Errorf(CodeInternal, "decode name segment %d: %v", shard, err)
	}
	return segment, data, nil
}

// registerName adds or removes the name in its registry shard. The update
// is best effort: a persistent race leaves the registry stale, which
// ListRefs tolerates.
func (s *Store) registerName(ctx context.Context, name string, add bool) {
	shard := nameShard(name, s.cfg.RefNameShards)
	for attempt := 0; attempt < nameRegisterAttempts; attempt++ {
		segment, data, err := s.loadNameSegment(ctx, shard)
		if err != nil {
			break
		}
		names := []string{}
		if segment != nil {
			names = segment.Names
		}
		idx, found := slices.BinarySearch(names, name)
		switch {
		case add && found, !add && !found:
			return
		case add:
			names = slices.Insert(slices.Clone(names), idx, name)
		default:
			names = slices.Delete(slices.Clone(names), idx, idx+1)
		}
		next, err := codec.Encode(&object.RefNameSegment{Names: names})
		if err != nil {
			break
		}
		err = s.adapter.CompareAndSwap(ctx, storage.RefNames, object.RefNameSegmentID(shard), data, next)
		if err == nil {
			return
		}
		if !storage.ErrCasMismatch.Has(err) && !storage.ErrUnavailable.Has(err) {
			break
		}
	}
	s.log.Warn("reference name registry update skipped",
		zap.String("name", name),
		zap.Bool("add", add))
}

// resolveRef parses a reference spec into the named reference and the
// effective commit. Specs take the forms "name", "name@hash", and "@hash";
// the latter two pin a fixed commit, and the bare hash form synthesizes a
// detached reference.
func (s *Store) resolveRef(ctx context.Context, spec string) (*object.Reference, object.ID, error) {
	name, hash, hasHash := strings.Cut(spec, "@")
	if !hasHash {
		ref, err := s.GetRef(ctx, spec)
		if err != nil {
			return nil, object.ZeroID, err
		}
		return ref, ref.Head, nil
	}
	commitID, err := object.ParseID(hash)
	if err != nil {
		return nil, object.ZeroID, Errorf(CodeInvalidArgument, "malformed reference spec %q: %v", spec, err)
	}
	if _, err := s.FetchCommit(ctx, commitID); err != nil {
		return nil, object.ZeroID, err
	}
	if name == "" {
		ref := &object.Reference{Kind: object.KindDetached, Head: commitID}
		return ref, commitID, nil
	}
	ref, err := s.GetRef(ctx, name)
	if err != nil {
		return nil, object.ZeroID, err
	}
	return ref, commitID, nil
}

func nameShard(name string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int(h.Sum32() % uint32(shards))
}
