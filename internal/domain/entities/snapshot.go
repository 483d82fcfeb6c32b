package entities

import (
	"errors"
	"regexp"
	"time"
)

// SnapshotStatus represents the lifecycle state of a costing snapshot
type SnapshotStatus string

const (
	SnapshotStatusDraft  SnapshotStatus = "DRAFT"
	SnapshotStatusReady  SnapshotStatus = "READY"
	SnapshotStatusLocked SnapshotStatus = "LOCKED"
)

// TransitionOrigin identifies who is asking for a status change
type TransitionOrigin string

const (
	// TransitionOriginUser is an explicit lifecycle call (update, lock, unlock)
	TransitionOriginUser TransitionOrigin = "user"
	// TransitionOriginRecalculation is a completed recalculation pass
	TransitionOriginRecalculation TransitionOrigin = "recalculation"
)

var (
	// ErrUnknownSnapshotStatus is returned for a status outside the enum
	ErrUnknownSnapshotStatus = errors.New("unknown snapshot status")

	// ErrIllegalTransition is returned when the transition table forbids a change
	ErrIllegalTransition = errors.New("illegal snapshot status transition")
)

type statusTransition struct {
	from SnapshotStatus
	to   SnapshotStatus
}

// snapshotTransitions lists every allowed status change and the origins that may request it.
// READY is only ever entered by a recalculation.
var snapshotTransitions = map[statusTransition][]TransitionOrigin{
	{SnapshotStatusDraft, SnapshotStatusReady}:  {TransitionOriginRecalculation},
	{SnapshotStatusDraft, SnapshotStatusLocked}: {TransitionOriginUser},
	{SnapshotStatusReady, SnapshotStatusLocked}: {TransitionOriginUser},
	{SnapshotStatusReady, SnapshotStatusDraft}:  {TransitionOriginUser},
	{SnapshotStatusLocked, SnapshotStatusDraft}: {TransitionOriginUser},
}

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// Valid reports whether the status is part of the enum
func (s SnapshotStatus) Valid() bool {
	switch s {
	case SnapshotStatusDraft, SnapshotStatusReady, SnapshotStatusLocked:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is allowed for the given origin
func CanTransition(from, to SnapshotStatus, origin TransitionOrigin) bool {
	for _, allowed := range snapshotTransitions[statusTransition{from: from, to: to}] {
		if allowed == origin {
			return true
		}
	}
	return false
}

// IsValidMonth checks the YYYY-MM month format
func IsValidMonth(month string) bool {
	return monthPattern.MatchString(month)
}

// Snapshot represents one month's costing dataset
type Snapshot struct {
	ID                  string         `json:"id"`
	Month               string         `json:"month"` // YYYY-MM
	Status              SnapshotStatus `json:"status"`
	IncludeFixedCosts   bool           `json:"include_fixed_costs"`
	AppliedFixedCostIDs []string       `json:"applied_fixed_cost_ids"`
	LockedAt            *time.Time     `json:"locked_at,omitempty"`
	LockedBy            *string        `json:"locked_by,omitempty"`
	LastCalculatedAt    *time.Time     `json:"last_calculated_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// IsEditable reports whether dependent data (staff, consumables, procedures) should accept edits.
// Enforcement is left to the callers that edit that data.
func (s *Snapshot) IsEditable() bool {
	return s.Status != SnapshotStatusLocked
}

// Transition moves the snapshot to the requested status through the transition table.
// A same-status request is a no-op and reports changed=false.
func (s *Snapshot) Transition(to SnapshotStatus, origin TransitionOrigin, at time.Time, actor *string) (bool, error) {
	if !to.Valid() {
		return false, ErrUnknownSnapshotStatus
	}
	if s.Status == to {
		return false, nil
	}
	if !CanTransition(s.Status, to, origin) {
		return false, ErrIllegalTransition
	}

	s.Status = to
	if to == SnapshotStatusLocked {
		lockedAt := at
		s.LockedAt = &lockedAt
		s.LockedBy = cloneStringPtr(actor)
	} else {
		s.LockedAt = nil
		s.LockedBy = nil
	}
	s.UpdatedAt = at
	return true, nil
}

// Clone returns a deep copy of the snapshot
func (s Snapshot) Clone() Snapshot {
	out := s
	out.AppliedFixedCostIDs = cloneStrings(s.AppliedFixedCostIDs)
	out.LockedAt = cloneTimePtr(s.LockedAt)
	out.LockedBy = cloneStringPtr(s.LockedBy)
	out.LastCalculatedAt = cloneTimePtr(s.LastCalculatedAt)
	return out
}

// SnapshotSummary is the list projection of a snapshot
type SnapshotSummary struct {
	ID                string         `json:"id"`
	Month             string         `json:"month"`
	Status            SnapshotStatus `json:"status"`
	IncludeFixedCosts bool           `json:"include_fixed_costs"`
	LockedAt          *time.Time     `json:"locked_at,omitempty"`
	LastCalculatedAt  *time.Time     `json:"last_calculated_at,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Summary projects the snapshot into its list form
func (s Snapshot) Summary() SnapshotSummary {
	return SnapshotSummary{
		ID:                s.ID,
		Month:             s.Month,
		Status:            s.Status,
		IncludeFixedCosts: s.IncludeFixedCosts,
		LockedAt:          cloneTimePtr(s.LockedAt),
		LastCalculatedAt:  cloneTimePtr(s.LastCalculatedAt),
		UpdatedAt:         s.UpdatedAt,
	}
}

// SnapshotDetail is a snapshot together with the data partitioned under it
type SnapshotDetail struct {
	Snapshot
	Staff               []StaffCapacity       `json:"staff"`
	Consumables         []ConsumablePricing   `json:"consumables"`
	Procedures          []ProcedureDefinition `json:"procedures"`
	FixedCostSelections []FixedCostSelection  `json:"fixed_cost_selections"`
	HasResults          bool                  `json:"has_results"`
}

// CreateSnapshotInput is the payload for creating a snapshot
type CreateSnapshotInput struct {
	Month             string  `json:"month"`
	IncludeFixedCosts bool    `json:"include_fixed_costs"`
	SourceSnapshotID  *string `json:"source_snapshot_id,omitempty"`
}

// UpdateSnapshotInput is the payload for updating snapshot metadata
type UpdateSnapshotInput struct {
	Status            *SnapshotStatus `json:"status,omitempty"`
	IncludeFixedCosts *bool           `json:"include_fixed_costs,omitempty"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneStringPtr(in *string) *string {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}

func cloneTimePtr(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}

func cloneFloatPtr(in *float64) *float64 {
	if in == nil {
		return nil
	}
	v := *in
	return &v
}
