// Package anchors supplies the policy snapshot a verification runs against:
// the current constitution and energy-policy hashes plus the per-class
// energy budget table. The verifier only compares these opaque values.
package anchors

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// SupportedVersions is the semver constraint an anchors document must meet
// when it declares a version.
const SupportedVersions = "^1"

var (
	// ErrUnsupportedVersion is returned for a document outside SupportedVersions.
	ErrUnsupportedVersion = errors.New("anchors: unsupported version")
	// ErrInvalid is returned for a structurally invalid snapshot.
	ErrInvalid = errors.New("anchors: invalid snapshot")
)

// Snapshot is one immutable view of the policy anchors. Sources hand out
// copies, so a snapshot held by an evaluation never changes underneath it.
type Snapshot struct {
	Version                 string           `json:"version,omitempty" yaml:"version,omitempty"`
	Epoch                   string           `json:"epoch,omitempty" yaml:"epoch,omitempty"`
	ConstitutionHashCurrent string           `json:"constitution_hash_current" yaml:"constitution_hash_current"`
	EnergyPolicyHashCurrent string           `json:"energy_policy_hash_current" yaml:"energy_policy_hash_current"`
	EnergyBudgetUJ          map[string]int64 `json:"energy_budget_uj" yaml:"energy_budget_uj"`
}

// Empty is the snapshot used when no anchors can be loaded. Every anchor
// comparison against it fails.
func Empty() *Snapshot {
	return &Snapshot{EnergyBudgetUJ: map[string]int64{}}
}

// Validate checks the snapshot is usable: both hashes set, budgets
// non-negative, and a declared version within SupportedVersions.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil", ErrInvalid)
	}
	if s.Version != "" {
		v, err := semver.NewVersion(s.Version)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrUnsupportedVersion, s.Version, err)
		}
		c, err := semver.NewConstraint(SupportedVersions)
		if err != nil {
			return fmt.Errorf("anchors: constraint: %w", err)
		}
		if !c.Check(v) {
			return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedVersion, s.Version, SupportedVersions)
		}
	}
	if s.ConstitutionHashCurrent == "" {
		return fmt.Errorf("%w: constitution_hash_current is empty", ErrInvalid)
	}
	if s.EnergyPolicyHashCurrent == "" {
		return fmt.Errorf("%w: energy_policy_hash_current is empty", ErrInvalid)
	}
	for _, class := range s.Classes() {
		if s.EnergyBudgetUJ[class] < 0 {
			return fmt.Errorf("%w: negative budget for %s", ErrInvalid, class)
		}
	}
	return nil
}

// Budget returns the energy ceiling for an action class.
func (s *Snapshot) Budget(class string) (int64, bool) {
	if s == nil {
		return 0, false
	}
	b, ok := s.EnergyBudgetUJ[class]
	return b, ok
}

// Classes lists the budgeted action classes in sorted order.
func (s *Snapshot) Classes() []string {
	out := make([]string, 0, len(s.EnergyBudgetUJ))
	for c := range s.EnergyBudgetUJ {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.EnergyBudgetUJ = make(map[string]int64, len(s.EnergyBudgetUJ))
	for k, v := range s.EnergyBudgetUJ {
		cp.EnergyBudgetUJ[k] = v
	}
	return &cp
}
