package iceberg

import "fmt"

// Requirement is a client supplied assertion about the prior metadata
// state, checked before any update is applied.
type Requirement interface {
	// Name returns the Iceberg REST wire name of the assertion.
	Name() string
}

// AssertCreate requires the entity to not exist yet.
type AssertCreate struct{}

func (AssertCreate) Name() string { return "assert-create" }

// AssertTableUUID requires the table uuid to match.
type AssertTableUUID struct {
	UUID string `json:"uuid"`
}

func (AssertTableUUID) Name() string { return "assert-table-uuid" }

// AssertCurrentSchemaID requires the current schema id to match.
type AssertCurrentSchemaID struct {
	SchemaID int `json:"current-schema-id"`
}

func (AssertCurrentSchemaID) Name() string { return "assert-current-schema-id" }

// AssertLastAssignedFieldID requires the highest assigned column id to
// match.
type AssertLastAssignedFieldID struct {
	FieldID int `json:"last-assigned-field-id"`
}

func (AssertLastAssignedFieldID) Name() string { return "assert-last-assigned-field-id" }

// AssertCurrentSnapshotID requires the current snapshot id to match.
type AssertCurrentSnapshotID struct {
	SnapshotID int64 `json:"snapshot-id"`
}

func (AssertCurrentSnapshotID) Name() string { return "assert-current-snapshot-id" }

// AssertRefSnapshotID requires a named snapshot ref to point at the given
// snapshot. A snapshot id of -1 asserts the ref does not exist.
type AssertRefSnapshotID struct {
	Ref        string `json:"ref"`
	SnapshotID int64  `json:"snapshot-id"`
}

func (AssertRefSnapshotID) Name() string { return "assert-ref-snapshot-id" }

// CheckTableRequirement validates one assertion against the draft. A nil
// draft means the table does not exist yet.
func CheckTableRequirement(m *TableMetadata, r Requirement) error {
	switch r := r.(type) {
	case AssertCreate:
		if m != nil {
			return fmt.Errorf("table already exists")
		}
	case AssertTableUUID:
		if m == nil {
			return fmt.Errorf("table does not exist")
		}
		if m.TableUUID != r.UUID {
			return fmt.Errorf("table uuid is %s, expected %s", m.TableUUID, r.UUID)
		}
	case AssertCurrentSchemaID:
		if m == nil {
			return fmt.Errorf("table does not exist")
		}
		if m.CurrentSchemaID != r.SchemaID {
			return fmt.Errorf("current schema id is %d, expected %d", m.CurrentSchemaID, r.SchemaID)
		}
	case AssertLastAssignedFieldID:
		if m == nil {
			return fmt.Errorf("table does not exist")
		}
		if m.LastColumnID != r.FieldID {
			return fmt.Errorf("last assigned field id is %d, expected %d", m.LastColumnID, r.FieldID)
		}
	case AssertCurrentSnapshotID:
		if m == nil {
			return fmt.Errorf("table does not exist")
		}
		if m.CurrentSnapshotID != r.SnapshotID {
			return fmt.Errorf("current snapshot id is %d, expected %d", m.CurrentSnapshotID, r.SnapshotID)
		}
	case AssertRefSnapshotID:
		if m == nil {
			return fmt.Errorf("table does not exist")
		}
		ref, ok := m.Refs[r.Ref]
		if r.SnapshotID == -1 {
			if ok {
				return fmt.Errorf("ref %q already exists", r.Ref)
			}
			return nil
		}
		if !ok {
			return fmt.Errorf("ref %q does not exist", r.Ref)
		}
		if ref.SnapshotID != r.SnapshotID {
			return fmt.Errorf("ref %q is at snapshot %d, expected %d", r.Ref, ref.SnapshotID, r.SnapshotID)
		}
	default:
		return fmt.Errorf("unknown requirement %q", r.Name())
	}
	return nil
}

// CheckViewRequirement validates one assertion against the draft. A nil
// draft means the view does not exist yet.
func CheckViewRequirement(m *ViewMetadata, r Requirement) error {
	switch r := r.(type) {
	case AssertCreate:
		if m != nil {
			return fmt.Errorf("view already exists")
		}
	case AssertTableUUID:
		if m == nil {
			return fmt.Errorf("view does not exist")
		}
		if m.ViewUUID != r.UUID {
			return fmt.Errorf("view uuid is %s, expected %s", m.ViewUUID, r.UUID)
		}
	default:
		return fmt.Errorf("requirement %q does not apply to views", r.Name())
	}
	return nil
}
