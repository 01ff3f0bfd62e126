package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// AnyEntityType on a delegation matches every entity type.
const AnyEntityType = "*"

// Delegation lets DelegateID act for DelegatorID on one entity type for an
// inclusive range of calendar days. DelegatorID is a user ID or a role name.
type Delegation struct {
	ID          string    `json:"id"`
	Tenant      string    `json:"tenant"`
	DelegatorID string    `json:"delegatorId"`
	DelegateID  string    `json:"delegateId"`
	EntityType  string    `json:"entityType"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	IsActive    bool      `json:"isActive"`
	Reason      string    `json:"reason,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks the record invariants that storage does not enforce.
func (d Delegation) Validate() error {
	switch {
	case strings.TrimSpace(d.DelegatorID) == "":
		return fmt.Errorf("%w: delegatorId is required", ErrInvalidInput)
	case strings.TrimSpace(d.DelegateID) == "":
		return fmt.Errorf("%w: delegateId is required", ErrInvalidInput)
	case d.DelegatorID == d.DelegateID:
		return fmt.Errorf("%w: a user cannot delegate to themselves", ErrInvalidInput)
	case strings.TrimSpace(d.EntityType) == "":
		return fmt.Errorf("%w: entityType is required", ErrInvalidInput)
	case d.StartDate.IsZero() || d.EndDate.IsZero():
		return fmt.Errorf("%w: startDate and endDate are required", ErrInvalidInput)
	case dateOf(d.EndDate).Before(dateOf(d.StartDate)):
		return fmt.Errorf("%w: startDate must not be after endDate", ErrInvalidInput)
	}
	return nil
}

// Covers reports whether the delegation is in force for entityType on asOf.
func (d Delegation) Covers(entityType string, asOf time.Time) bool {
	if !d.IsActive {
		return false
	}
	if d.EntityType != entityType && d.EntityType != AnyEntityType {
		return false
	}
	day := dateOf(asOf)
	return !day.Before(dateOf(d.StartDate)) && !day.After(dateOf(d.EndDate))
}

// Overlaps reports whether two delegations could both be in force for the
// same delegator and entity type on some day.
func (d Delegation) Overlaps(o Delegation) bool {
	if d.ID != "" && d.ID == o.ID {
		return false
	}
	if !d.IsActive || !o.IsActive || d.DelegatorID != o.DelegatorID {
		return false
	}
	if d.EntityType != o.EntityType && d.EntityType != AnyEntityType && o.EntityType != AnyEntityType {
		return false
	}
	return !dateOf(d.StartDate).After(dateOf(o.EndDate)) && !dateOf(o.StartDate).After(dateOf(d.EndDate))
}

// DelegationResolution is the outcome of resolving one nominal approver.
type DelegationResolution struct {
	NominalID   string      `json:"nominalId"`
	EffectiveID string      `json:"effectiveId"`
	Delegation  *Delegation `json:"delegation,omitempty"`
	// Overlap is set when more than one delegation matched and the tie-break picked one.
	Overlap    bool     `json:"overlap"`
	Candidates []string `json:"candidates,omitempty"`
}

// Delegated reports whether someone other than the nominal approver acts.
func (r DelegationResolution) Delegated() bool {
	return r.EffectiveID != r.NominalID
}

// ResolveDelegate picks the effective actor for nominal among delegations.
// Zero matches leave the nominal approver in place; several matches resolve to
// the most recent start date (then latest creation, then ID) and flag Overlap.
// Resolution is single-hop: a delegate's own delegations are not followed.
func ResolveDelegate(delegations []Delegation, nominal, entityType string, asOf time.Time) DelegationResolution {
	res := DelegationResolution{NominalID: nominal, EffectiveID: nominal}

	var matches []Delegation
	for _, d := range delegations {
		if d.DelegatorID == nominal && d.Covers(entityType, asOf) {
			matches = append(matches, d)
		}
	}
	if len(matches) == 0 {
		return res
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.StartDate.Equal(b.StartDate) {
			return a.StartDate.After(b.StartDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	chosen := matches[0]
	res.EffectiveID = chosen.DelegateID
	res.Delegation = &chosen
	if len(matches) > 1 {
		res.Overlap = true
		for _, m := range matches {
			res.Candidates = append(res.Candidates, m.DelegateID)
		}
	}
	return res
}

// dateOf truncates t to its calendar day in UTC.
func dateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
