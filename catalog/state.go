package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/nasdf/tessera/core"
	"github.com/nasdf/tessera/iceberg"
	"github.com/nasdf/tessera/object"
)

// opState tracks the progress of one catalog operation through the update
// pipeline. Transitions are strictly forward; any failure leaves the flow
// in a terminal error and nothing is committed.
type opState uint8

const (
	stateInitial opState = iota
	stateRequirementsOK
	stateDraft
	stateFinalized
)

// flow runs one operation through checkRequirements, applyUpdates, and
// emitMetadata.
type flow struct {
	cfg   Config
	io    ObjectIO
	codec iceberg.Codec
	clock core.Clock

	key      object.Key
	existing *object.Content
	state    opState

	table *iceberg.TableMetadata
	view  *iceberg.ViewMetadata
	// changed is set when any update had an effect on the draft.
	changed bool

	// Outputs of emitMetadata.
	content      *object.Content
	metadataJSON []byte
}

func newFlow(cfg Config, io ObjectIO, codec iceberg.Codec, clock core.Clock, key object.Key, existing *object.Content) *flow {
	return &flow{cfg: cfg, io: io, codec: codec, clock: clock, key: key, existing: existing}
}

// loadDraft reads the prior metadata document into the draft, or starts an
// empty draft on create.
func (f *flow) loadDraft(ctx context.Context, contentType object.ContentType) error {
	if f.existing == nil {
		switch contentType {
		case object.ContentIcebergTable:
			f.table = iceberg.NewTableMetadata()
		case object.ContentIcebergView:
			f.view = iceberg.NewViewMetadata()
		default:
			return core.Errorf(core.CodeInvalidArgument, "content type %s has no snapshot flow", contentType)
		}
		return nil
	}
	switch f.existing.Type {
	case object.ContentIcebergTable:
		data, err := f.io.ReadObject(ctx, f.existing.Table.MetadataLocation)
		if err != nil {
			return &core.Error{Code: core.CodeUnavailable, Reason: "IOFailure", Message: err.Error()}
		}
		f.table, err = f.codec.DecodeTable(data)
		if err != nil {
			return core.Errorf(core.CodeInternal, "decode table metadata at %s: %v", f.existing.Table.MetadataLocation, err)
		}
	case object.ContentIcebergView:
		data, err := f.io.ReadObject(ctx, f.existing.View.MetadataLocation)
		if err != nil {
			return &core.Error{Code: core.CodeUnavailable, Reason: "IOFailure", Message: err.Error()}
		}
		f.view, err = f.codec.DecodeView(data)
		if err != nil {
			return core.Errorf(core.CodeInternal, "decode view metadata at %s: %v", f.existing.View.MetadataLocation, err)
		}
	default:
		return core.Errorf(core.CodeInvalidArgument, "key %s holds a %s, not a table or view", f.key, f.existing.Type)
	}
	return nil
}

// checkRequirements validates every assertion against the draft. A nil
// draft means the entity does not exist yet.
func (f *flow) checkRequirements(requirements []iceberg.Requirement) error {
	if f.state != stateInitial {
		return core.Errorf(core.CodeInternal, "requirements checked out of order")
	}
	for _, r := range requirements {
		var err error
		if f.view != nil {
			draft := f.view
			if f.existing == nil {
				draft = nil
			}
			err = iceberg.CheckViewRequirement(draft, r)
		} else {
			draft := f.table
			if f.existing == nil {
				draft = nil
			}
			err = iceberg.CheckTableRequirement(draft, r)
		}
		if err != nil {
			return &core.Error{
				Code:    core.CodeReferenceConflict,
				Reason:  "RequirementViolated",
				Message: fmt.Sprintf("%s: %v", f.key, err),
			}
		}
	}
	f.state = stateRequirementsOK
	return nil
}

// applyUpdates applies the updates in listed order. Locations are
// validated against the warehouse before anything mutates the draft.
func (f *flow) applyUpdates(updates []iceberg.Update) error {
	if f.state != stateRequirementsOK {
		return core.Errorf(core.CodeInternal, "updates applied out of order")
	}
	for _, u := range updates {
		if set, ok := u.(iceberg.SetLocation); ok {
			if err := f.validateLocation(set.Location); err != nil {
				return err
			}
		}
	}
	for _, u := range updates {
		var changed bool
		var err error
		if f.view != nil {
			changed, err = iceberg.ApplyViewUpdate(f.view, u)
		} else {
			changed, err = iceberg.ApplyTableUpdate(f.table, u)
		}
		if err != nil {
			return &core.Error{
				Code:    core.CodeInvalidArgument,
				Reason:  "UpdateRejected",
				Message: fmt.Sprintf("%s: update %q: %v", f.key, u.Action(), err),
			}
		}
		f.changed = f.changed || changed
	}
	f.state = stateDraft
	return nil
}

// noop reports that the updates left an existing entity unchanged.
func (f *flow) noop() bool {
	return f.state == stateDraft && !f.changed && f.existing != nil
}

// emitMetadata writes the draft as a metadata file under the entity
// location and produces the new content blob.
func (f *flow) emitMetadata(ctx context.Context) error {
	if f.state != stateDraft {
		return core.Errorf(core.CodeInternal, "metadata emitted out of order")
	}
	now := f.clock.Now().UTC().UnixMilli()
	var data []byte
	var location string
	var err error
	if f.view != nil {
		if f.view.Location == "" {
			f.view.Location = f.defaultLocation()
		}
		if f.view.ViewUUID == "" {
			f.view.ViewUUID = uuid.NewString()
		}
		location = f.view.Location
		data, err = f.codec.EncodeView(f.view)
	} else {
		if f.table.Location == "" {
			f.table.Location = f.defaultLocation()
		}
		if f.table.TableUUID == "" {
			f.table.TableUUID = uuid.NewString()
		}
		f.table.LastUpdatedMs = now
		location = f.table.Location
		data, err = f.codec.EncodeTable(f.table)
	}
	if err != nil {
		return core.Errorf(core.CodeInternal, "%s: %v", f.key, err)
	}

	uri := metadataURI(location, f.nextVersion(), uuid.NewString())
	if err := f.io.WriteObject(ctx, uri, data); err != nil {
		return &core.Error{
			Code:    core.CodeUnavailable,
			Reason:  "MetadataEmissionFailed",
			Message: fmt.Sprintf("%s: %v", f.key, err),
		}
	}

	if f.view != nil {
		f.content = &object.Content{
			Type: object.ContentIcebergView,
			View: &object.ViewContent{
				MetadataLocation: uri,
				VersionID:        f.view.CurrentVersionID,
				SchemaID:         schemaOfViewVersion(f.view),
			},
		}
	} else {
		f.content = &object.Content{
			Type: object.ContentIcebergTable,
			Table: &object.TableContent{
				MetadataLocation: uri,
				SnapshotID:       f.table.CurrentSnapshotID,
				SchemaID:         int64(f.table.CurrentSchemaID),
				SpecID:           int64(f.table.DefaultSpecID),
				SortOrderID:      int64(f.table.DefaultSortOrderID),
			},
		}
	}
	if f.existing != nil {
		f.content.ContentID = f.existing.ContentID
	}
	f.metadataJSON = data
	f.state = stateFinalized
	return nil
}

// validateLocation rejects URIs the object store cannot address and
// locations outside the warehouse root.
func (f *flow) validateLocation(location string) error {
	if !f.io.IsValidURI(location) {
		return core.Errorf(core.CodeInvalidArgument, "location %q is not a valid uri", location)
	}
	if !withinWarehouse(f.cfg.Warehouse, location) {
		return core.Errorf(core.CodeInvalidArgument, "location %q is outside the warehouse %q", location, f.cfg.Warehouse)
	}
	return nil
}

// withinWarehouse reports whether the location relativizes under the
// warehouse root without escaping it.
func withinWarehouse(warehouse, location string) bool {
	w, err := url.Parse(warehouse)
	if err != nil {
		return false
	}
	l, err := url.Parse(location)
	if err != nil {
		return false
	}
	if w.Scheme != l.Scheme || w.Host != l.Host {
		return false
	}
	root := strings.TrimSuffix(w.Path, "/")
	path := l.Path
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+"/") && !strings.Contains(path, "..")
}

func (f *flow) defaultLocation() string {
	return f.cfg.Warehouse + "/" + strings.Join(f.key, "/")
}

// nextVersion numbers the metadata file after the previous one at the key.
func (f *flow) nextVersion() int {
	if f.existing == nil {
		return 0
	}
	var prior string
	switch f.existing.Type {
	case object.ContentIcebergTable:
		prior = f.existing.Table.MetadataLocation
	case object.ContentIcebergView:
		prior = f.existing.View.MetadataLocation
	}
	return parseMetadataVersion(prior) + 1
}

// parseMetadataVersion extracts the leading version number from a
// metadata file name like "00042-<uuid>.metadata.json", or -1.
func parseMetadataVersion(uri string) int {
	name := uri
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	digits, _, ok := strings.Cut(name, "-")
	if !ok {
		return -1
	}
	version := 0
	for _, r := range digits {
		if r < '0' || r > '9' {
			return -1
		}
		version = version*10 + int(r-'0')
	}
	if len(digits) == 0 {
		return -1
	}
	return version
}

func metadataURI(location string, version int, id string) string {
	return fmt.Sprintf("%s/metadata/%05d-%s.metadata.json", strings.TrimSuffix(location, "/"), version, id)
}

func schemaOfViewVersion(m *iceberg.ViewMetadata) int64 {
	if v := m.VersionByID(m.CurrentVersionID); v != nil {
		return int64(v.SchemaID)
	}
	return -1
}
