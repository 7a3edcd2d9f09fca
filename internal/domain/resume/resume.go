// Package resume seals the state a button needs to resume the workflow.
//
// Payloads are HS256 tokens so a button value cannot be forged or edited by
// anyone without the signing secret. They never expire: offers wait for a
// decision indefinitely.
package resume

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
)

const issuer = "hirebot"

// Stage names the step a payload resumes.
type Stage string

// Stages.
const (
	StageDecision   Stage = "decision"
	StageOnboarding Stage = "onboarding"
)

// Payload is what a button carries.
type Payload struct {
	Stage Stage        `json:"stage"`
	Offer offer.Record `json:"offer"`

	// Where the offer was posted and the thread status updates go to.
	Channel   string `json:"ch"`
	MessageTS string `json:"ts"`
	ThreadTS  string `json:"th,omitempty"`
}

type claims struct {
	Payload Payload `json:"p"`
	jwt.RegisteredClaims
}

// Sealer signs and verifies payloads.
type Sealer struct {
	secret []byte
}

// NewSealer returns a Sealer keyed by secret.
func NewSealer(secret string) *Sealer {
	return &Sealer{secret: []byte(secret)}
}

// Seal signs p. Onboarding data is never carried in a button.
func (s *Sealer) Seal(p Payload) (string, error) {
	p.Offer = p.Offer.Clone()
	p.Offer.Onboarding = nil
	c := claims{
		Payload: p,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  issuer,
			Subject: p.Offer.OfferID,
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", failure.WrapKind("resume.seal", failure.ErrPermanent, err)
	}
	return tok, nil
}

// Open verifies token and returns its payload.
func (s *Sealer) Open(token string, want Stage) (Payload, error) {
	const op = "resume.open"
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return Payload{}, failure.WrapKind(op, failure.ErrValidation, err)
	}
	if c.Subject != c.Payload.Offer.OfferID || c.Payload.Offer.OfferID == "" {
		return Payload{}, failure.WrapKind(op, failure.ErrValidation, errors.New("subject mismatch"))
	}
	if want != "" && c.Payload.Stage != want {
		return Payload{}, failure.Newf(op, failure.ErrValidation, "payload for stage %q used at %q", c.Payload.Stage, want)
	}
	return c.Payload, nil
}
