package entities

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// DocumentSchemaVersion is the current persisted layout version
const DocumentSchemaVersion = 2

// Collection names shared by every store flavour
const (
	CollectionSnapshots           = "snapshots"
	CollectionStaff               = "staff"
	CollectionConsumables         = "consumables"
	CollectionProcedures          = "procedures"
	CollectionFixedCostSelections = "fixed_cost_selections"
	CollectionResults             = "results"
	CollectionJobs                = "jobs"
	CollectionMetadata            = "metadata"
)

// Collections lists every persisted collection in a stable order
var Collections = []string{
	CollectionSnapshots,
	CollectionStaff,
	CollectionConsumables,
	CollectionProcedures,
	CollectionFixedCostSelections,
	CollectionResults,
	CollectionJobs,
	CollectionMetadata,
}

// DocumentMetadata carries the schema version and write revision
type DocumentMetadata struct {
	Version   int        `json:"version"`
	Revision  int64      `json:"revision"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Document is the whole costing state, partitioned by snapshot id
type Document struct {
	Snapshots           map[string]Snapshot              `json:"snapshots"`
	Staff               map[string][]StaffCapacity       `json:"staff"`
	Consumables         map[string][]ConsumablePricing   `json:"consumables"`
	Procedures          map[string][]ProcedureDefinition `json:"procedures"`
	FixedCostSelections map[string][]FixedCostSelection  `json:"fixed_cost_selections"`
	Results             map[string]ResultSet             `json:"results"`
	Jobs                []RecalculationJob               `json:"jobs"`
	Metadata            DocumentMetadata                 `json:"metadata"`
}

// NewDocument returns the default empty document
func NewDocument() *Document {
	d := &Document{}
	d.Normalize()
	return d
}

// NewID generates a collision-resistant random identifier
func NewID() string {
	return uuid.New().String()
}

// Normalize fills missing collections with defaults and migrates older layouts
func (d *Document) Normalize() {
	if d.Snapshots == nil {
		d.Snapshots = make(map[string]Snapshot)
	}
	if d.Staff == nil {
		d.Staff = make(map[string][]StaffCapacity)
	}
	if d.Consumables == nil {
		d.Consumables = make(map[string][]ConsumablePricing)
	}
	if d.Procedures == nil {
		d.Procedures = make(map[string][]ProcedureDefinition)
	}
	if d.FixedCostSelections == nil {
		d.FixedCostSelections = make(map[string][]FixedCostSelection)
	}
	if d.Results == nil {
		d.Results = make(map[string]ResultSet)
	}
	if d.Jobs == nil {
		d.Jobs = []RecalculationJob{}
	}
	migrateDocument(d)
}

// migrateDocument upgrades older layouts in place
func migrateDocument(d *Document) {
	if d.Metadata.Version == 0 {
		d.Metadata.Version = 1
	}
	if d.Metadata.Version < 2 {
		// v1 stored no selections list; rebuild it from the snapshot's applied ids
		for id, snap := range d.Snapshots {
			if _, ok := d.FixedCostSelections[id]; ok || len(snap.AppliedFixedCostIDs) == 0 {
				continue
			}
			selections := make([]FixedCostSelection, 0, len(snap.AppliedFixedCostIDs))
			for _, templateID := range snap.AppliedFixedCostIDs {
				selections = append(selections, FixedCostSelection{TemplateID: templateID, Included: true})
			}
			d.FixedCostSelections[id] = selections
		}
		d.Metadata.Version = 2
	}
}

// Clone returns a deep copy of the document; mutating the copy never affects the source
func (d *Document) Clone() *Document {
	out := &Document{
		Snapshots:           make(map[string]Snapshot, len(d.Snapshots)),
		Staff:               make(map[string][]StaffCapacity, len(d.Staff)),
		Consumables:         make(map[string][]ConsumablePricing, len(d.Consumables)),
		Procedures:          make(map[string][]ProcedureDefinition, len(d.Procedures)),
		FixedCostSelections: make(map[string][]FixedCostSelection, len(d.FixedCostSelections)),
		Results:             make(map[string]ResultSet, len(d.Results)),
		Jobs:                make([]RecalculationJob, len(d.Jobs)),
		Metadata:            d.Metadata,
	}
	out.Metadata.UpdatedAt = cloneTimePtr(d.Metadata.UpdatedAt)
	for k, v := range d.Snapshots {
		out.Snapshots[k] = v.Clone()
	}
	for k, v := range d.Staff {
		out.Staff[k] = CloneStaff(v)
	}
	for k, v := range d.Consumables {
		out.Consumables[k] = CloneConsumables(v)
	}
	for k, v := range d.Procedures {
		out.Procedures[k] = CloneProcedures(v)
	}
	for k, v := range d.FixedCostSelections {
		out.FixedCostSelections[k] = CloneSelections(v)
	}
	for k, v := range d.Results {
		out.Results[k] = v.Clone()
	}
	for i, j := range d.Jobs {
		out.Jobs[i] = j.Clone()
	}
	return out
}

// FindSnapshotByMonth returns the snapshot registered for the month
func (d *Document) FindSnapshotByMonth(month string) (Snapshot, bool) {
	for _, s := range d.Snapshots {
		if s.Month == month {
			return s, true
		}
	}
	return Snapshot{}, false
}

// SortedSnapshots returns snapshots ordered by month descending, then id
func (d *Document) SortedSnapshots() []Snapshot {
	out := make([]Snapshot, 0, len(d.Snapshots))
	for _, s := range d.Snapshots {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Month != out[j].Month {
			return out[i].Month > out[j].Month
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// PreviousResults returns the latest result set from a month earlier than the given one
func (d *Document) PreviousResults(month string) (Snapshot, ResultSet, bool) {
	var (
		best    Snapshot
		results ResultSet
		found   bool
	)
	for id, s := range d.Snapshots {
		if s.Month >= month {
			continue
		}
		rs, ok := d.Results[id]
		if !ok {
			continue
		}
		if !found || s.Month > best.Month {
			best, results, found = s, rs, true
		}
	}
	return best, results, found
}

// Detail assembles the snapshot with all data partitioned under it
func (d *Document) Detail(id string) (SnapshotDetail, bool) {
	snap, ok := d.Snapshots[id]
	if !ok {
		return SnapshotDetail{}, false
	}
	_, hasResults := d.Results[id]
	return SnapshotDetail{
		Snapshot:            snap.Clone(),
		Staff:               CloneStaff(d.Staff[id]),
		Consumables:         CloneConsumables(d.Consumables[id]),
		Procedures:          CloneProcedures(d.Procedures[id]),
		FixedCostSelections: CloneSelections(d.FixedCostSelections[id]),
		HasResults:          hasResults,
	}, true
}
