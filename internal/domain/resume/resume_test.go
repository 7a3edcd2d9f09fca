package resume_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
	"github.com/Dan-Hightower/hirebot/internal/domain/resume"
	. "github.com/smartystreets/goconvey/convey"
)

func samplePayload() resume.Payload {
	return resume.Payload{
		Stage: resume.StageDecision,
		Offer: offer.Record{
			OfferID:       "0192f0c4-0000-7000-8000-000000000001",
			HiringManager: "U999",
			Role:          "Software Engineer",
			Salary:        "$130,000",
			EquityPercent: "0.66%",
			EquityShares:  66_000,
			StartDate:     "May 1, 2026",
			Handle:        "<@U123>",
			State:         offer.StateAwaitingConfirmation,
		},
		Channel:   "C1",
		MessageTS: "1700000000.000100",
	}
}

func TestSealer(t *testing.T) {
	Convey("Given a sealer", t, func() {
		s := resume.NewSealer("secret")
		p := samplePayload()

		Convey("When a payload is sealed and opened", func() {
			tok, err := s.Seal(p)
			So(err, ShouldBeNil)
			So(len(tok), ShouldBeLessThan, 2000)

			got, err := s.Open(tok, resume.StageDecision)
			So(err, ShouldBeNil)
			So(got.Offer.OfferID, ShouldEqual, p.Offer.OfferID)
			So(got.Offer.EquityPercent, ShouldEqual, "0.66%")
			So(got.Offer.Handle, ShouldEqual, "<@U123>")
			So(got.MessageTS, ShouldEqual, p.MessageTS)
		})

		Convey("When the token is tampered with", func() {
			tok, _ := s.Seal(p)
			parts := strings.Split(tok, ".")
			parts[1] = parts[1][:len(parts[1])-2] + "AA"
			_, err := s.Open(strings.Join(parts, "."), resume.StageDecision)
			So(errors.Is(err, failure.ErrValidation), ShouldBeTrue)
		})

		Convey("When another secret signed it", func() {
			tok, _ := resume.NewSealer("other").Seal(p)
			_, err := s.Open(tok, resume.StageDecision)
			So(errors.Is(err, failure.ErrValidation), ShouldBeTrue)
		})

		Convey("When it is used at the wrong stage", func() {
			tok, _ := s.Seal(p)
			_, err := s.Open(tok, resume.StageOnboarding)
			So(errors.Is(err, failure.ErrValidation), ShouldBeTrue)
		})

		Convey("When the algorithm is none", func() {
			tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"iss": "hirebot"}).
				SignedString(jwt.UnsafeAllowNoneSignatureType)
			So(err, ShouldBeNil)
			_, err = s.Open(tok, "")
			So(errors.Is(err, failure.ErrValidation), ShouldBeTrue)
		})

		Convey("When onboarding data is present it is not sealed", func() {
			p.Offer.Onboarding = &offer.Onboarding{FullName: "Ada Lovelace"}
			tok, _ := s.Seal(p)
			got, err := s.Open(tok, "")
			So(err, ShouldBeNil)
			So(got.Offer.Onboarding, ShouldBeNil)
			So(p.Offer.Onboarding, ShouldNotBeNil)
		})
	})
}
