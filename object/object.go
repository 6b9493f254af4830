package object

import "time"

// OpKind describes the effect of an operation on a key.
type OpKind uint8

const (
	// OpPut stores a new content payload at the key.
	OpPut OpKind = iota + 1
	// OpDelete removes the key.
	OpDelete
	// OpUnchanged records that the key was part of a commit but kept its value.
	OpUnchanged
)

// String returns the name of the operation kind.
func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "Put"
	case OpDelete:
		return "Delete"
	case OpUnchanged:
		return "Unchanged"
	default:
		return "Unknown"
	}
}

// ContentType identifies the payload variant stored in a Content blob.
type ContentType uint8

const (
	// ContentIcebergTable is an Iceberg table pointer.
	ContentIcebergTable ContentType = iota + 1
	// ContentIcebergView is an Iceberg view pointer.
	ContentIcebergView
	// ContentNamespace is a namespace with properties.
	ContentNamespace
	// ContentUDF is a user defined function.
	ContentUDF
)

// String returns the name of the content type.
func (t ContentType) String() string {
	switch t {
	case ContentIcebergTable:
		return "IcebergTable"
	case ContentIcebergView:
		return "IcebergView"
	case ContentNamespace:
		return "Namespace"
	case ContentUDF:
		return "UDF"
	default:
		return "Unknown"
	}
}

// Operation is a single keyed change recorded by a commit.
type Operation struct {
	// Key is the key the operation applies to.
	Key Key
	// Kind is the effect of the operation.
	Kind OpKind
	// PayloadRef is the ID of the Content blob for Put operations.
	PayloadRef ID
	// ContentID is the stable logical id of the content at the key.
	ContentID string
	// ContentType is the payload variant at the key.
	ContentType ContentType
}

// Commit is an immutable node in the version DAG. Its ID is the hash of its
// canonical bytes and is not part of the serialized form.
type Commit struct {
	// Parents are the commit ancestors in order. Element 0 is the logical
	// predecessor; additional parents encode merges.
	Parents []ID
	// Author is the original author of the change.
	Author string
	// Committer is the identity that wrote the commit.
	Committer string
	// CommitTime is the wall-clock time the commit was written.
	CommitTime time.Time
	// Message describes the change.
	Message string
	// Operations are the keyed changes, at most one per key.
	Operations []Operation
	// KeyIndexRoot points at the key index reflecting the cumulative state.
	KeyIndexRoot ID
	// Metadata holds additional commit properties.
	Metadata map[string]string
}

// TableContent is the body of an IcebergTable content blob.
type TableContent struct {
	// MetadataLocation is the URI of the Iceberg table metadata file.
	MetadataLocation string
	// SnapshotID is the current Iceberg snapshot id.
	SnapshotID int64
	// SchemaID is the current schema id.
	SchemaID int64
	// SpecID is the default partition spec id.
	SpecID int64
	// SortOrderID is the default sort order id.
	SortOrderID int64
}

// ViewContent is the body of an IcebergView content blob.
type ViewContent struct {
	// MetadataLocation is the URI of the Iceberg view metadata file.
	MetadataLocation string
	// VersionID is the current view version id.
	VersionID int64
	// SchemaID is the current schema id.
	SchemaID int64
}

// NamespaceContent is the body of a Namespace content blob.
type NamespaceContent struct {
	// Properties are the namespace properties.
	Properties map[string]string
}

// UDFContent is the body of a UDF content blob.
type UDFContent struct {
	// Dialect is the language the function body is written in.
	Dialect string
	// Body is the function body.
	Body string
}

// Content is a typed payload stored at a key. Exactly one body field
// matching Type is set.
type Content struct {
	// ContentID is assigned at the first Put and preserved across updates
	// to the same logical entity.
	ContentID string
	// Type selects the body variant.
	Type ContentType
	// Table is set for ContentIcebergTable.
	Table *TableContent
	// View is set for ContentIcebergView.
	View *ViewContent
	// Namespace is set for ContentNamespace.
	Namespace *NamespaceContent
	// UDF is set for ContentUDF.
	UDF *UDFContent
}

// RefKind describes how a reference may move.
type RefKind uint8

const (
	// KindBranch is a mutable reference advanced by commits.
	KindBranch RefKind = iota + 1
	// KindTag is a fixed reference.
	KindTag
	// KindDetached addresses a commit hash directly. Detached references
	// are synthesized for reads and never persisted.
	KindDetached
)

// String returns the name of the reference kind.
func (k RefKind) String() string {
	switch k {
	case KindBranch:
		return "Branch"
	case KindTag:
		return "Tag"
	case KindDetached:
		return "Detached"
	default:
		return "Unknown"
	}
}

// Reference is a named pointer to a commit.
type Reference struct {
	// Name is unique within the repository.
	Name string
	// Kind is the reference kind.
	Kind RefKind
	// Head is the commit the reference points at.
	Head ID
	// CreatedAt is the time the reference was created.
	CreatedAt time.Time
}

// RefID returns the storage ID for the reference with the given name.
func RefID(name string) ID {
	return NewHasher("Reference").String(name).ID()
}

// RefNameSegment is one page of the eventually consistent reference name
// registry. Authoritative existence is always the refs bucket.
type RefNameSegment struct {
	// Names are the reference names in this segment, sorted.
	Names []string
}

// RefNameSegmentID returns the storage ID for the given registry shard.
func RefNameSegmentID(shard int) ID {
	return NewHasher("RefNameSegment").Int64(int64(shard)).ID()
}

// RepoDescriptor is the singleton descriptor of a repository.
type RepoDescriptor struct {
	// DefaultBranch is the name of the default branch.
	DefaultBranch string
	// CreatedAt is the repository creation time.
	CreatedAt time.Time
	// Properties holds repository level config knobs.
	Properties map[string]string
}

// RepoDescriptorID is the storage ID of the repository descriptor singleton.
func RepoDescriptorID() ID {
	return NewHasher("RepoDescriptor").ID()
}

// IndexEntry maps a key to its content payload.
type IndexEntry struct {
	// Key is the entry key.
	Key Key
	// PayloadRef is the ID of the Content blob.
	PayloadRef ID
	// ContentID is the stable logical id of the content.
	ContentID string
	// ContentType is the payload variant.
	ContentType ContentType
}

// IndexSegment is a content addressed page of the key index. Entries are
// sorted by key.
type IndexSegment struct {
	Entries []IndexEntry
}

// SegmentRef points at a child segment and records its key range.
type SegmentRef struct {
	FirstKey Key
	LastKey  Key
	Child    ID
}

// SegmentIndex is a shallow tree node over index segments. Children are in
// key order with non-overlapping ranges.
type SegmentIndex struct {
	Children []SegmentRef
}

// TaskState is the lifecycle state of an async task entry.
type TaskState uint8

const (
	// TaskRunning means a computation is in flight.
	TaskRunning TaskState = iota + 1
	// TaskSuccess means the computation produced a value.
	TaskSuccess
	// TaskFailure means the computation failed.
	TaskFailure
)

// TaskEntry is the persisted state of an async task keyed by the derived
// snapshot ID it materializes.
type TaskEntry struct {
	// State is the task lifecycle state.
	State TaskState
	// Value holds the serialized result for successful tasks.
	Value []byte
	// ErrorMessage holds the failure reason for failed tasks.
	ErrorMessage string
	// StartedAt is the time the computation started.
	StartedAt time.Time
	// Lease is the time until which the running task holds its slot.
	Lease time.Time
}
