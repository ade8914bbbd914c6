package dashboard

import (
	"context"
	"errors"
	"fmt"

	"procodus.dev/health-dashboard/pkg/vitals"
)

// GrantChecker reports whether a patient granted a user access to their feed.
type GrantChecker interface {
	HasGrant(ctx context.Context, patientID, granteeID uint) (bool, error)
}

// Policy decides whether a viewer may read a patient's feed.
//
//	admin              always
//	patient            only themselves
//	doctor, relative   with a grant from the patient
//	unset              never
type Policy struct {
	grants GrantChecker
}

// NewPolicy creates a Policy backed by grants.
func NewPolicy(grants GrantChecker) (*Policy, error) {
	if grants == nil {
		return nil, errors.New("grant checker cannot be nil")
	}
	return &Policy{grants: grants}, nil
}

// CanView returns false for a denial. Errors are reserved for store failures.
func (p *Policy) CanView(ctx context.Context, viewer, patient Account) (bool, error) {
	switch viewer.Role {
	case vitals.RoleAdmin:
		return true, nil
	case vitals.RolePatient:
		return viewer.ID == patient.ID, nil
	case vitals.RoleDoctor, vitals.RoleRelative:
		ok, err := p.grants.HasGrant(ctx, patient.ID, viewer.ID)
		if err != nil {
			return false, fmt.Errorf("failed to check access grant: %w", err)
		}
		return ok, nil
	default:
		return false, nil
	}
}
