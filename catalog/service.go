package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nasdf/tessera/core"
	"github.com/nasdf/tessera/iceberg"
	"github.com/nasdf/tessera/object"
	"github.com/nasdf/tessera/task"
)

// Operation is one Iceberg change against a catalog key.
type Operation struct {
	// Key is the table or view key.
	Key object.Key
	// Type selects the snapshot flow on create. Ignored when the key
	// already exists.
	Type object.ContentType
	// Requirements are checked against the prior state before any update
	// applies.
	Requirements []iceberg.Requirement
	// Updates apply to the draft in listed order.
	Updates []iceberg.Update
}

// CommitParams describes a multi-table catalog commit.
type CommitParams struct {
	// Branch receives the commit.
	Branch string
	// Operations are the per-key changes. All land in one commit.
	Operations []Operation

	Author    string
	Committer string
	Message   string
}

// CommitOutcome is the result of a catalog commit.
type CommitOutcome struct {
	// CommitID is the branch head after the commit. When NoOp is set it is
	// the unchanged previous head.
	CommitID object.ID
	// NoOp reports that every operation left its entity unchanged.
	NoOp bool
	// Contents maps Key.MapKey renderings to the committed content blobs.
	Contents map[string]*object.Content
}

// Service wraps the versioned store with Iceberg snapshot semantics.
type Service struct {
	store *core.Store
	io    ObjectIO
	codec iceberg.Codec
	cache *task.Cache
	cfg   Config
	log   *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithConfig sets the catalog configuration.
func WithConfig(cfg Config) ServiceOption {
	return func(s *Service) { s.cfg = cfg }
}

// WithCodec sets the metadata codec.
func WithCodec(codec iceberg.Codec) ServiceOption {
	return func(s *Service) { s.codec = codec }
}

// WithCache sets the derived snapshot cache.
func WithCache(cache *task.Cache) ServiceOption {
	return func(s *Service) { s.cache = cache }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// NewService returns a catalog service over the store and object IO.
func NewService(store *core.Store, io ObjectIO, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		io:    io,
		codec: iceberg.JSONCodec{},
		cfg:   DefaultConfig(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = s.cfg.withDefaults()
	if s.cache == nil {
		s.cache = task.NewCache(task.DefaultConfig(),
			task.WithPersistence(task.NewStorePersistence(store.Adapter())))
	}
	return s
}

// Close releases the snapshot cache workers.
func (s *Service) Close() {
	s.cache.Close()
}

// Commit runs every operation through the snapshot update pipeline and
// lands all resulting puts in a single commit on the branch. Operations
// whose updates have no effect are skipped; when all are skipped nothing
// is committed.
func (s *Service) Commit(ctx context.Context, params CommitParams) (*CommitOutcome, error) {
	if len(params.Operations) == 0 {
		return nil, core.Errorf(core.CodeInvalidArgument, "catalog commit has no operations")
	}
	keys := make([]object.Key, len(params.Operations))
	for i, op := range params.Operations {
		keys[i] = op.Key
	}
	prior, err := s.store.GetContents(ctx, params.Branch, keys)
	if err != nil {
		return nil, err
	}

	var flows []*flow
	var commitOps []core.CommitOperation
	for _, op := range params.Operations {
		existing := prior.Contents[op.Key.MapKey()]
		f := newFlow(s.cfg, s.io, s.codec, s.store.Clock(), op.Key, existing)
		if err := f.loadDraft(ctx, op.Type); err != nil {
			return nil, err
		}
		if err := f.checkRequirements(op.Requirements); err != nil {
			return nil, err
		}
		if err := f.applyUpdates(op.Updates); err != nil {
			return nil, err
		}
		if f.noop() {
			s.log.Debug("skipping no-op catalog operation", zap.Stringer("key", op.Key))
			continue
		}
		if err := f.emitMetadata(ctx); err != nil {
			return nil, err
		}
		requirement := core.ReqMustExist
		if existing == nil {
			requirement = core.ReqMustNotExist
		}
		flows = append(flows, f)
		commitOps = append(commitOps, core.CommitOperation{
			Key:         op.Key,
			Kind:        object.OpPut,
			Content:     f.content,
			Requirement: requirement,
		})
	}

	if len(commitOps) == 0 {
		return &CommitOutcome{CommitID: prior.EffectiveHead, NoOp: true}, nil
	}

	message := params.Message
	if message == "" {
		message = fmt.Sprintf("Catalog commit with %d operations", len(commitOps))
	}
	result, err := s.store.Commit(ctx, core.CommitRequest{
		Branch:       params.Branch,
		ExpectedHead: &prior.EffectiveHead,
		Operations:   commitOps,
		Author:       params.Author,
		Committer:    params.Committer,
		Message:      message,
	})
	if err != nil {
		return nil, err
	}

	outcome := &CommitOutcome{
		CommitID: result.CommitID,
		NoOp:     result.NoOp,
		Contents: make(map[string]*object.Content, len(flows)),
	}
	for i, f := range flows {
		content := f.content
		if result.Commit != nil {
			content.ContentID = result.Commit.Operations[i].ContentID
		}
		outcome.Contents[f.key.MapKey()] = content

		snapID, err := SnapshotID(content)
		if err != nil {
			continue
		}
		s.cache.Put(snapID, f.metadataJSON)
	}
	return outcome, nil
}

// RetrieveSnapshot reads the snapshot of a single key at the reference.
func (s *Service) RetrieveSnapshot(ctx context.Context, refSpec string, key object.Key, format Format) (*SnapshotResult, error) {
	results, err := s.RetrieveSnapshots(ctx, refSpec, []object.Key{key}, format)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, core.Errorf(core.CodeNotFound, "key %s not found on %s", key, refSpec)
	}
	return results[0], nil
}

// RetrieveSnapshots reads the snapshots of the keys at a single resolved
// commit. Absent keys are omitted from the result.
func (s *Service) RetrieveSnapshots(ctx context.Context, refSpec string, keys []object.Key, format Format) ([]*SnapshotResult, error) {
	contents, err := s.store.GetContents(ctx, refSpec, keys)
	if err != nil {
		return nil, err
	}
	var results []*SnapshotResult
	for _, key := range keys {
		content, ok := contents.Contents[key.MapKey()]
		if !ok {
			continue
		}
		result, err := s.materialize(ctx, refSpec, contents.EffectiveHead, key, content, format)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// materialize loads the metadata document through the snapshot cache and
// shapes the result for the requested format.
func (s *Service) materialize(ctx context.Context, refSpec string, head object.ID, key object.Key, content *object.Content, format Format) (*SnapshotResult, error) {
	snapID, err := SnapshotID(content)
	if err != nil {
		return nil, err
	}
	location := metadataLocation(content)
	future, err := s.cache.Get(ctx, snapID, func(ctx context.Context) ([]byte, error) {
		return s.io.ReadObject(ctx, location)
	})
	if err != nil {
		if task.ErrBusy.Has(err) {
			return nil, core.Errorf(core.CodeUnavailable, "snapshot workers busy: %v", err)
		}
		return nil, core.Errorf(core.CodeInternal, "%v", err)
	}
	raw, err := future.Value(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.Errorf(core.CodeDeadlineExceeded, "snapshot read: %v", err)
		}
		return nil, &core.Error{Code: core.CodeUnavailable, Reason: "IOFailure", Message: err.Error()}
	}

	passThrough := map[string]string{
		PropContentID:  content.ContentID,
		PropSnapshotID: snapID.String(),
		PropCommitID:   head.String(),
		PropCommitRef:  refSpec,
	}
	merged, err := s.mergeProperties(content.Type, raw, passThrough)
	if err != nil {
		return nil, err
	}
	result := &SnapshotResult{
		Key:              key,
		ContentID:        content.ContentID,
		ContentType:      content.Type.String(),
		SnapshotID:       snapID.String(),
		EffectiveRef:     refSpec,
		CommitID:         head.String(),
		MetadataLocation: location,
		Metadata:         merged,
	}
	if format == FormatNative {
		// The native shape carries the envelope fields only; clients fetch
		// the document from MetadataLocation themselves.
		result.Metadata = nil
	}
	return result, nil
}

// mergeProperties decodes the metadata document, merges the pass-through
// properties, and re-encodes it.
func (s *Service) mergeProperties(contentType object.ContentType, raw []byte, props map[string]string) ([]byte, error) {
	switch contentType {
	case object.ContentIcebergTable:
		meta, err := s.codec.DecodeTable(raw)
		if err != nil {
			return nil, core.Errorf(core.CodeInternal, "%v", err)
		}
		if meta.Properties == nil {
			meta.Properties = make(map[string]string, len(props))
		}
		for k, v := range props {
			meta.Properties[k] = v
		}
		data, err := s.codec.EncodeTable(meta)
		if err != nil {
			return nil, core.Errorf(core.CodeInternal, "%v", err)
		}
		return data, nil
	case object.ContentIcebergView:
		meta, err := s.codec.DecodeView(raw)
		if err != nil {
			return nil, core.Errorf(core.CodeInternal, "%v", err)
		}
		if meta.Properties == nil {
			meta.Properties = make(map[string]string, len(props))
		}
		for k, v := range props {
			meta.Properties[k] = v
		}
		data, err := s.codec.EncodeView(meta)
		if err != nil {
			return nil, core.Errorf(core.CodeInternal, "%v", err)
		}
		return data, nil
	default:
		return nil, core.Errorf(core.CodeNotFound, "Not a table: %s", contentType)
	}
}

func metadataLocation(content *object.Content) string {
	switch content.Type {
	case object.ContentIcebergTable:
		return content.Table.MetadataLocation
	case object.ContentIcebergView:
		return content.View.MetadataLocation
	default:
		return ""
	}
}
