// Package iceberg holds the Iceberg table and view metadata structures,
// their JSON codec, and the update and requirement types applied by the
// catalog layer. The versioned storage engine never imports this package.
package iceberg

// DefaultFormatVersion is the metadata format version written for new
// tables and views.
const DefaultFormatVersion = 2

// Field is a column in a schema.
type Field struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Type     string `json:"type"`
	Doc      string `json:"doc,omitempty"`
}

// Schema is a named tuple of fields.
type Schema struct {
	SchemaID int     `json:"schema-id"`
	Type     string  `json:"type"`
	Fields   []Field `json:"fields"`
}

// MaxFieldID returns the highest field id in the schema.
func (s *Schema) MaxFieldID() int {
	max := 0
	for _, f := range s.Fields {
		if f.ID > max {
			max = f.ID
		}
	}
	return max
}

// PartitionField maps a source column to a partition value via a transform.
type PartitionField struct {
	SourceID  int    `json:"source-id"`
	FieldID   int    `json:"field-id"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

// PartitionSpec describes how data files are partitioned.
type PartitionSpec struct {
	SpecID int              `json:"spec-id"`
	Fields []PartitionField `json:"fields"`
}

// SortField is one element of a sort order.
type SortField struct {
	SourceID  int    `json:"source-id"`
	Transform string `json:"transform"`
	Direction string `json:"direction"`
	NullOrder string `json:"null-order"`
}

// SortOrder describes the ordering of rows within data files.
type SortOrder struct {
	OrderID int         `json:"order-id"`
	Fields  []SortField `json:"fields"`
}

// Snapshot is one committed table state.
type Snapshot struct {
	SnapshotID       int64             `json:"snapshot-id"`
	ParentSnapshotID int64             `json:"parent-snapshot-id,omitempty"`
	SequenceNumber   int64             `json:"sequence-number"`
	TimestampMs      int64             `json:"timestamp-ms"`
	ManifestList     string            `json:"manifest-list"`
	Summary          map[string]string `json:"summary,omitempty"`
	SchemaID         int               `json:"schema-id"`
}

// SnapshotRef is a named pointer into the snapshot log.
type SnapshotRef struct {
	SnapshotID int64  `json:"snapshot-id"`
	Type       string `json:"type"`
}

// TableMetadata is the root Iceberg table metadata document.
type TableMetadata struct {
	FormatVersion      int                    `json:"format-version"`
	TableUUID          string                 `json:"table-uuid"`
	Location           string                 `json:"location"`
	LastSequenceNumber int64                  `json:"last-sequence-number"`
	LastUpdatedMs      int64                  `json:"last-updated-ms"`
	LastColumnID       int                    `json:"last-column-id"`
	CurrentSchemaID    int                    `json:"current-schema-id"`
	Schemas            []Schema               `json:"schemas"`
	DefaultSpecID      int                    `json:"default-spec-id"`
	PartitionSpecs     []PartitionSpec        `json:"partition-specs"`
	LastPartitionID    int                    `json:"last-partition-id"`
	DefaultSortOrderID int                    `json:"default-sort-order-id"`
	SortOrders         []SortOrder            `json:"sort-orders"`
	Properties         map[string]string      `json:"properties,omitempty"`
	CurrentSnapshotID  int64                  `json:"current-snapshot-id"`
	Snapshots          []Snapshot             `json:"snapshots,omitempty"`
	Refs               map[string]SnapshotRef `json:"refs,omitempty"`
}

// NewTableMetadata returns an empty table metadata document.
func NewTableMetadata() *TableMetadata {
	return &TableMetadata{
		FormatVersion:     DefaultFormatVersion,
		CurrentSchemaID:   -1,
		CurrentSnapshotID: -1,
	}
}

// SchemaByID returns the schema with the given id, or nil.
func (m *TableMetadata) SchemaByID(id int) *Schema {
	for i := range m.Schemas {
		if m.Schemas[i].SchemaID == id {
			return &m.Schemas[i]
		}
	}
	return nil
}

// SnapshotByID returns the snapshot with the given id, or nil.
func (m *TableMetadata) SnapshotByID(id int64) *Snapshot {
	for i := range m.Snapshots {
		if m.Snapshots[i].SnapshotID == id {
			return &m.Snapshots[i]
		}
	}
	return nil
}

// ViewVersion is one committed view definition.
type ViewVersion struct {
	VersionID       int64             `json:"version-id"`
	SchemaID        int               `json:"schema-id"`
	TimestampMs     int64             `json:"timestamp-ms"`
	Summary         map[string]string `json:"summary,omitempty"`
	Representations []ViewRep         `json:"representations"`
	DefaultCatalog  string            `json:"default-catalog,omitempty"`
	DefaultNS       []string          `json:"default-namespace,omitempty"`
}

// ViewRep is one representation of a view version.
type ViewRep struct {
	Type    string `json:"type"`
	SQL     string `json:"sql"`
	Dialect string `json:"dialect"`
}

// ViewMetadata is the root Iceberg view metadata document.
type ViewMetadata struct {
	ViewUUID         string            `json:"view-uuid"`
	FormatVersion    int               `json:"format-version"`
	Location         string            `json:"location"`
	CurrentVersionID int64             `json:"current-version-id"`
	Versions         []ViewVersion     `json:"versions"`
	Schemas          []Schema          `json:"schemas"`
	Properties       map[string]string `json:"properties,omitempty"`
}

// NewViewMetadata returns an empty view metadata document.
func NewViewMetadata() *ViewMetadata {
	return &ViewMetadata{
		FormatVersion:    1,
		CurrentVersionID: -1,
	}
}

// VersionByID returns the view version with the given id, or nil.
func (m *ViewMetadata) VersionByID(id int64) *ViewVersion {
	for i := range m.Versions {
		if m.Versions[i].VersionID == id {
			return &m.Versions[i]
		}
	}
	return nil
}
