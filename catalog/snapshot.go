package catalog

import (
	"github.com/nasdf/tessera/core"
	"github.com/nasdf/tessera/object"
)

// Pass-through properties embedded in every snapshot output.
const (
	PropContentID  = "nessie.catalog.content-id"
	PropSnapshotID = "nessie.catalog.snapshot-id"
	PropCommitID   = "nessie.commit.id"
	PropCommitRef  = "nessie.commit.ref"
)

// Format selects the output shape of a retrieved snapshot.
type Format uint8

const (
	// FormatNative returns the snapshot wrapped with its effective
	// reference information.
	FormatNative Format = iota + 1
	// FormatIceberg returns the raw Iceberg metadata document with the
	// pass-through properties merged in.
	FormatIceberg
)

// SnapshotID derives the cache identity of a content blob's snapshot. The
// same metadata location and snapshot or version id always derive the
// same ID.
func SnapshotID(content *object.Content) (object.ID, error) {
	switch content.Type {
	case object.ContentIcebergTable:
		return object.NewHasher("ContentSnapshot").
			String(content.Table.MetadataLocation).
			Int64(content.Table.SnapshotID).
			ID(), nil
	case object.ContentIcebergView:
		return object.NewHasher("ContentSnapshot").
			String(content.View.MetadataLocation).
			Int64(content.View.VersionID).
			ID(), nil
	default:
		return object.ZeroID, core.Errorf(core.CodeNotFound, "Not a table: content %q is a %s", content.ContentID, content.Type)
	}
}

// SnapshotResult is one retrieved snapshot in the requested format.
type SnapshotResult struct {
	// Key is the catalog key the snapshot was read at.
	Key object.Key `json:"key"`
	// ContentID is the logical id of the content.
	ContentID string `json:"contentId"`
	// ContentType is the payload variant.
	ContentType string `json:"contentType"`
	// SnapshotID is the derived snapshot id in hex.
	SnapshotID string `json:"snapshotId"`
	// EffectiveRef is the reference spec the read resolved.
	EffectiveRef string `json:"effectiveRef"`
	// CommitID is the commit the read observed.
	CommitID string `json:"commitId"`
	// MetadataLocation is the URI of the metadata document.
	MetadataLocation string `json:"metadataLocation"`
	// Metadata is the raw metadata document with pass-through properties
	// merged in. For FormatIceberg this is the whole response body.
	Metadata []byte `json:"metadata"`
}
