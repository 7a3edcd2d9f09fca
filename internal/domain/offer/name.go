package offer

import (
	"strings"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
)

// SplitName splits a full legal name into a first token and the rest.
func SplitName(full string) (first, last string, err error) {
	parts := strings.Fields(full)
	if len(parts) < 2 {
		return "", "", failure.Newf("offer.split_name", failure.ErrValidation, "please provide both a first and last name")
	}
	return parts[0], strings.Join(parts[1:], " "), nil
}

// Validate checks a submitted onboarding form. The optional current title
// is never required.
func (o *Onboarding) Validate() error {
	const op = "offer.validate_onboarding"
	if _, _, err := SplitName(o.FullName); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(o.Address) == "":
		return failure.Newf(op, failure.ErrValidation, "address is required")
	case !strings.Contains(o.PersonalEmail, "@"):
		return failure.Newf(op, failure.ErrValidation, "a personal email address is required")
	case strings.TrimSpace(o.PhoneNumber) == "":
		return failure.Newf(op, failure.ErrValidation, "phone number is required")
	}
	return nil
}
