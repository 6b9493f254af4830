package iceberg

import (
	"fmt"
	"maps"
	"reflect"
)

// Update is one metadata change applied to a draft document. Actions use
// the Iceberg REST wire names.
type Update interface {
	Action() string
}

// AssignUUID sets the table or view uuid, once.
type AssignUUID struct {
	UUID string `json:"uuid"`
}

func (AssignUUID) Action() string { return "assign-uuid" }

// SetLocation changes the base location of the table or view.
type SetLocation struct {
	Location string `json:"location"`
}

func (SetLocation) Action() string { return "set-location" }

// AddSchema appends a schema to the document.
type AddSchema struct {
	Schema Schema `json:"schema"`
}

func (AddSchema) Action() string { return "add-schema" }

// SetCurrentSchema makes an existing schema current. The id -1 selects the
// most recently added schema.
type SetCurrentSchema struct {
	SchemaID int `json:"schema-id"`
}

func (SetCurrentSchema) Action() string { return "set-current-schema" }

// AddPartitionSpec appends a partition spec.
type AddPartitionSpec struct {
	Spec PartitionSpec `json:"spec"`
}

func (AddPartitionSpec) Action() string { return "add-spec" }

// SetDefaultSpec makes an existing partition spec the default. The id -1
// selects the most recently added spec.
type SetDefaultSpec struct {
	SpecID int `json:"spec-id"`
}

func (SetDefaultSpec) Action() string { return "set-default-spec" }

// AddSortOrder appends a sort order.
type AddSortOrder struct {
	Order SortOrder `json:"sort-order"`
}

func (AddSortOrder) Action() string { return "add-sort-order" }

// SetDefaultSortOrder makes an existing sort order the default. The id -1
// selects the most recently added order.
type SetDefaultSortOrder struct {
	OrderID int `json:"sort-order-id"`
}

func (SetDefaultSortOrder) Action() string { return "set-default-sort-order" }

// AddSnapshot appends a snapshot and advances the sequence number.
type AddSnapshot struct {
	Snapshot Snapshot `json:"snapshot"`
}

func (AddSnapshot) Action() string { return "add-snapshot" }

// SetSnapshotRef points a named ref at an existing snapshot. The ref named
// "main" also moves the current snapshot.
type SetSnapshotRef struct {
	Name       string `json:"ref-name"`
	SnapshotID int64  `json:"snapshot-id"`
	Type       string `json:"type"`
}

func (SetSnapshotRef) Action() string { return "set-snapshot-ref" }

// SetProperties merges properties into the document.
type SetProperties struct {
	Updates map[string]string `json:"updates"`
}

func (SetProperties) Action() string { return "set-properties" }

// RemoveProperties removes properties from the document.
type RemoveProperties struct {
	Removals []string `json:"removals"`
}

func (RemoveProperties) Action() string { return "remove-properties" }

// AddViewVersion appends a view version.
type AddViewVersion struct {
	Version ViewVersion `json:"view-version"`
}

func (AddViewVersion) Action() string { return "add-view-version" }

// SetCurrentViewVersion makes an existing view version current. The id -1
// selects the most recently added version.
type SetCurrentViewVersion struct {
	VersionID int64 `json:"view-version-id"`
}

func (SetCurrentViewVersion) Action() string { return "set-current-view-version" }

// ApplyTableUpdate applies one update to a table draft, reporting whether
// the draft changed. Updates that do not apply to tables are rejected.
func ApplyTableUpdate(m *TableMetadata, u Update) (bool, error) {
	switch u := u.(type) {
	case AssignUUID:
		if m.TableUUID == u.UUID {
			return false, nil
		}
		if m.TableUUID != "" {
			return false, fmt.Errorf("table uuid is already assigned")
		}
		m.TableUUID = u.UUID
		return true, nil
	case SetLocation:
		if m.Location == u.Location {
			return false, nil
		}
		m.Location = u.Location
		return true, nil
	case AddSchema:
		for _, existing := range m.Schemas {
			if reflect.DeepEqual(existing, u.Schema) {
				return false, nil
			}
			if existing.SchemaID == u.Schema.SchemaID {
				return false, fmt.Errorf("schema id %d already exists", u.Schema.SchemaID)
			}
		}
		m.Schemas = append(m.Schemas, u.Schema)
		if max := u.Schema.MaxFieldID(); max > m.LastColumnID {
			m.LastColumnID = max
		}
		return true, nil
	case SetCurrentSchema:
		id := u.SchemaID
		if id == -1 {
			if len(m.Schemas) == 0 {
				return false, fmt.Errorf("no schema to make current")
			}
			id = m.Schemas[len(m.Schemas)-1].SchemaID
		}
		if m.SchemaByID(id) == nil {
			return false, fmt.Errorf("schema id %d does not exist", id)
		}
		if m.CurrentSchemaID == id {
			return false, nil
		}
		m.CurrentSchemaID = id
		return true, nil
	case AddPartitionSpec:
		for _, existing := range m.PartitionSpecs {
			if reflect.DeepEqual(existing, u.Spec) {
				return false, nil
			}
			if existing.SpecID == u.Spec.SpecID {
				return false, fmt.Errorf("partition spec id %d already exists", u.Spec.SpecID)
			}
		}
		m.PartitionSpecs = append(m.PartitionSpecs, u.Spec)
		for _, f := range u.Spec.Fields {
			if f.FieldID > m.LastPartitionID {
				m.LastPartitionID = f.FieldID
			}
		}
		return true, nil
	case SetDefaultSpec:
		id := u.SpecID
		if id == -1 {
			if len(m.PartitionSpecs) == 0 {
				return false, fmt.Errorf("no partition spec to make default")
			}
			id = m.PartitionSpecs[len(m.PartitionSpecs)-1].SpecID
		}
		found := false
		for _, spec := range m.PartitionSpecs {
			if spec.SpecID == id {
				found = true
				break
			}
		}
		if !found {
			return false, fmt.Errorf("partition spec id %d does not exist", id)
		}
		if m.DefaultSpecID == id {
			return false, nil
		}
		m.DefaultSpecID = id
		return true, nil
	case AddSortOrder:
		for _, existing := range m.SortOrders {
			if reflect.DeepEqual(existing, u.Order) {
				return false, nil
			}
			if existing.OrderID == u.Order.OrderID {
				return false, fmt.Errorf("sort order id %d already exists", u.Order.OrderID)
			}
		}
		m.SortOrders = append(m.SortOrders, u.Order)
		return true, nil
	case SetDefaultSortOrder:
		id := u.OrderID
		if id == -1 {
			if len(m.SortOrders) == 0 {
				return false, fmt.Errorf("no sort order to make default")
			}
			id = m.SortOrders[len(m.SortOrders)-1].OrderID
		}
		found := false
		for _, order := range m.SortOrders {
			if order.OrderID == id {
				found = true
				break
			}
		}
		if !found {
			return false, fmt.Errorf("sort order id %d does not exist", id)
		}
		if m.DefaultSortOrderID == id {
			return false, nil
		}
		m.DefaultSortOrderID = id
		return true, nil
	case AddSnapshot:
		if m.SnapshotByID(u.Snapshot.SnapshotID) != nil {
			return false, fmt.Errorf("snapshot id %d already exists", u.Snapshot.SnapshotID)
		}
		m.Snapshots = append(m.Snapshots, u.Snapshot)
		if u.Snapshot.SequenceNumber > m.LastSequenceNumber {
			m.LastSequenceNumber = u.Snapshot.SequenceNumber
		}
		if u.Snapshot.TimestampMs > m.LastUpdatedMs {
			m.LastUpdatedMs = u.Snapshot.TimestampMs
		}
		return true, nil
	case SetSnapshotRef:
		if m.SnapshotByID(u.SnapshotID) == nil {
			return false, fmt.Errorf("snapshot id %d does not exist", u.SnapshotID)
		}
		refType := u.Type
		if refType == "" {
			refType = "branch"
		}
		ref := SnapshotRef{SnapshotID: u.SnapshotID, Type: refType}
		if existing, ok := m.Refs[u.Name]; ok && existing == ref {
			return false, nil
		}
		if m.Refs == nil {
			m.Refs = make(map[string]SnapshotRef)
		}
		m.Refs[u.Name] = ref
		if u.Name == "main" {
			m.CurrentSnapshotID = u.SnapshotID
		}
		return true, nil
	case SetProperties:
		return setProperties(&m.Properties, u.Updates), nil
	case RemoveProperties:
		return removeProperties(&m.Properties, u.Removals), nil
	default:
		return false, fmt.Errorf("update %q does not apply to tables", u.Action())
	}
}

// ApplyViewUpdate applies one update to a view draft, reporting whether
// the draft changed. Updates that do not apply to views are rejected.
func ApplyViewUpdate(m *ViewMetadata, u Update) (bool, error) {
	switch u := u.(type) {
	case AssignUUID:
		if m.ViewUUID == u.UUID {
			return false, nil
		}
		if m.ViewUUID != "" {
			return false, fmt.Errorf("view uuid is already assigned")
		}
		m.ViewUUID = u.UUID
		return true, nil
	case SetLocation:
		if m.Location == u.Location {
			return false, nil
		}
		m.Location = u.Location
		return true, nil
	case AddSchema:
		for _, existing := range m.Schemas {
			if reflect.DeepEqual(existing, u.Schema) {
				return false, nil
			}
			if existing.SchemaID == u.Schema.SchemaID {
				return false, fmt.Errorf("schema id %d already exists", u.Schema.SchemaID)
			}
		}
		m.Schemas = append(m.Schemas, u.Schema)
		return true, nil
	case AddViewVersion:
		if m.VersionByID(u.Version.VersionID) != nil {
			return false, fmt.Errorf("view version id %d already exists", u.Version.VersionID)
		}
		m.Versions = append(m.Versions, u.Version)
		return true, nil
	case SetCurrentViewVersion:
		id := u.VersionID
		if id == -1 {
			if len(m.Versions) == 0 {
				return false, fmt.Errorf("no view version to make current")
			}
			id = m.Versions[len(m.Versions)-1].VersionID
		}
		if m.VersionByID(id) == nil {
			return false, fmt.Errorf("view version id %d does not exist", id)
		}
		if m.CurrentVersionID == id {
			return false, nil
		}
		m.CurrentVersionID = id
		return true, nil
	case SetProperties:
		return setProperties(&m.Properties, u.Updates), nil
	case RemoveProperties:
		return removeProperties(&m.Properties, u.Removals), nil
	default:
		return false, fmt.Errorf("update %q does not apply to views", u.Action())
	}
}

func setProperties(props *map[string]string, updates map[string]string) bool {
	changed := false
	for key, value := range updates {
		if existing, ok := (*props)[key]; ok && existing == value {
			continue
		}
		if *props == nil {
			*props = make(map[string]string)
		}
		(*props)[key] = value
		changed = true
	}
	return changed
}

func removeProperties(props *map[string]string, removals []string) bool {
	changed := false
	for _, key := range removals {
		if _, ok := (*props)[key]; !ok {
			continue
		}
		if !changed {
			*props = maps.Clone(*props)
		}
		delete(*props, key)
		changed = true
	}
	return changed
}
