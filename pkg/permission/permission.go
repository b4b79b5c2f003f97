package permission

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ID identifies a permission independently of its display name.
type ID string

// RiskLevel grades how damaging misuse of a permission would be.
type RiskLevel int

const (
	RiskLow    RiskLevel = 1
	RiskMedium RiskLevel = 2
	RiskHigh   RiskLevel = 3
)

func (r RiskLevel) Valid() bool {
	return r >= RiskLow && r <= RiskHigh
}

// HIPAAImpact classifies exposure of protected health information.
type HIPAAImpact string

const (
	HIPAANone   HIPAAImpact = "none"
	HIPAALow    HIPAAImpact = "low"
	HIPAAMedium HIPAAImpact = "medium"
	HIPAAHigh   HIPAAImpact = "high"
)

func (h HIPAAImpact) Valid() bool {
	switch h {
	case "", HIPAANone, HIPAALow, HIPAAMedium, HIPAAHigh:
		return true
	}
	return false
}

// Permission is a named, risk-scored capability, e.g. "edit-lab-tests".
type Permission struct {
	ID               ID
	Name             string
	Resource         string
	Action           string
	Category         string
	Module           string
	SegregationGroup string
	RiskLevel        RiskLevel
	RequiresApproval bool
	IsCritical       bool
	HIPAAImpact      HIPAAImpact
	Description      string
}

// Validate checks the fields every catalog entry must carry.
func (p Permission) Validate() error {
	switch {
	case p.ID == "":
		return errors.Join(ErrInvalidPermission, errors.New("id is required"))
	case p.Name == "":
		return errors.Join(ErrInvalidPermission, fmt.Errorf("permission %q: name is required", p.ID))
	case !p.RiskLevel.Valid():
		return errors.Join(ErrInvalidPermission, fmt.Errorf("permission %q: risk level %d out of range 1..3", p.Name, p.RiskLevel))
	case !p.HIPAAImpact.Valid():
		return errors.Join(ErrInvalidPermission, fmt.Errorf("permission %q: unknown hipaa impact %q", p.Name, p.HIPAAImpact))
	}
	return nil
}

// Dependency is the edge "Permission requires DependsOn".
type Dependency struct {
	PermissionID ID
	DependsOnID  ID
}

// Set is an unordered collection of permission ids.
type Set map[ID]struct{}

func NewSet(ids ...ID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Has(id ID) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Add(ids ...ID) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Slice returns the ids in ascending order.
func (s Set) Slice() []ID {
	return slices.Sorted(maps.Keys(s))
}

func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}
