// Package offer models a hire attempt and the rules that keep it consistent.
package offer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
)

// DefaultTotalShares is the fully diluted share count equity is measured against.
const DefaultTotalShares int64 = 10_000_000

// Record is one hire attempt. It travels inside button payloads and is
// persisted by the ledger and the spreadsheet.
type Record struct {
	OfferID       string `json:"id"`
	HiringManager string `json:"mgr"`
	Role          string `json:"role"`
	Salary        string `json:"salary"`
	EquityPercent string `json:"equity"`
	EquityShares  int64  `json:"shares"`
	StartDate     string `json:"start"`
	Handle        string `json:"handle,omitempty"`
	State         State  `json:"state"`

	// Set once the spreadsheet row exists.
	RowRef int `json:"row,omitempty"`

	Onboarding *Onboarding `json:"onboarding,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Onboarding holds what the new hire submits through the form.
type Onboarding struct {
	FullName      string `json:"full_name"`
	Address       string `json:"address"`
	PersonalEmail string `json:"personal_email"`
	PhoneNumber   string `json:"phone_number"`
	CurrentTitle  string `json:"current_title,omitempty"`

	// ProvisioningProfileID is nil when provisioning failed.
	ProvisioningProfileID *string `json:"profile_id,omitempty"`
	ProvisioningError     string  `json:"provisioning_error,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
}

// NewID returns a time-ordered offer identifier.
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("offer id: %w", err)
	}
	return id.String(), nil
}

// SharesDisplay renders the share count with thousands separators.
func (r *Record) SharesDisplay() string {
	return FormatInt(r.EquityShares)
}

// CheckShares reports whether EquityShares is the value derived from EquityPercent.
func (r *Record) CheckShares(total int64) error {
	const op = "offer.check_shares"
	want, err := Shares(r.EquityPercent, total)
	if err != nil {
		return err
	}
	if want != r.EquityShares {
		return failure.Newf(op, failure.ErrValidation, "shares %d do not match %s of %d", r.EquityShares, r.EquityPercent, total)
	}
	return nil
}

// Validate checks the fields every confirmed offer must carry.
func (r *Record) Validate(total int64) error {
	const op = "offer.validate"
	switch {
	case r.OfferID == "":
		return failure.Newf(op, failure.ErrValidation, "missing offer id")
	case r.Role == "":
		return failure.Newf(op, failure.ErrValidation, "missing role")
	case r.Salary == "":
		return failure.Newf(op, failure.ErrValidation, "missing salary")
	case r.EquityPercent == "":
		return failure.Newf(op, failure.ErrValidation, "missing equity")
	case r.StartDate == "":
		return failure.Newf(op, failure.ErrValidation, "missing start date")
	}
	return r.CheckShares(total)
}

// ProfileID returns the provisioning profile identifier, or "" when absent.
func (r *Record) ProfileID() string {
	if r.Onboarding == nil || r.Onboarding.ProvisioningProfileID == nil {
		return ""
	}
	return *r.Onboarding.ProvisioningProfileID
}

// Transition moves r to next when allowed and stamps UpdatedAt.
func (r *Record) Transition(next State, now time.Time) error {
	if !r.State.CanTransition(next) {
		return failure.Newf("offer.transition", failure.ErrValidation, "%s -> %s not allowed", r.State, next)
	}
	r.State = next
	r.UpdatedAt = now
	return nil
}

// Clone returns a copy that shares no pointers with r.
func (r *Record) Clone() Record {
	c := *r
	if r.Onboarding != nil {
		ob := *r.Onboarding
		if r.Onboarding.ProvisioningProfileID != nil {
			id := *r.Onboarding.ProvisioningProfileID
			ob.ProvisioningProfileID = &id
		}
		c.Onboarding = &ob
	}
	return c
}
