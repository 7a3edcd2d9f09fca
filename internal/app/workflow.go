package service

import (
	"context"
	"errors"

	"github.com/Dan-Hightower/hirebot/internal/adapters/chat"
	"github.com/Dan-Hightower/hirebot/internal/adapters/deel"
	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/model"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
	"github.com/Dan-Hightower/hirebot/internal/domain/resume"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
	"github.com/Dan-Hightower/hirebot/pkg/metrics"
)

// HandleHireCommand parses a /hire invocation and posts the confirmation
// prompt. Nothing is persisted until the hire is confirmed.
func (s *Service) HandleHireCommand(ctx context.Context, cmd model.Command) error {
	metrics.RecordCommandReceived()
	log := s.logger.Named("hire")

	rec, err := s.parser.Parse(ctx, cmd.Text)
	if err == nil {
		err = s.prepare(&rec, cmd.UserID)
	}
	if err != nil {
		metrics.RecordOutcome("hire", failure.Label(err))
		log.Warn(ctx, "could not parse hire request", logger.String("user_id", cmd.UserID), logger.Error(err))
		return s.respond(ctx, cmd.ResponseURL, chat.Notice(chat.TextParseFailure, ""))
	}

	payload, err := s.sealer.Seal(resume.Payload{Stage: resume.StageDecision, Offer: rec, Channel: cmd.ChannelID})
	if err != nil {
		metrics.RecordOutcome("hire", failure.Label(err))
		_ = s.respond(ctx, cmd.ResponseURL, chat.Notice(chat.TextFailure, ""))
		return err
	}

	prompt := chat.ConfirmationPrompt(rec, payload)
	if _, err := s.messenger.PostMessage(ctx, cmd.ChannelID, prompt); err != nil {
		// The bot may not be a member of the channel; the response URL
		// can still post there.
		if !notInChannel(err) || cmd.ResponseURL == "" {
			metrics.RecordOutcome("hire", failure.Label(err))
			_ = s.respond(ctx, cmd.ResponseURL, chat.Notice(chat.TextFailure, ""))
			return err
		}
		if err := s.messenger.Respond(ctx, cmd.ResponseURL, prompt, false, true); err != nil {
			metrics.RecordOutcome("hire", failure.Label(err))
			return err
		}
	}

	metrics.RecordTransition(string(offer.StateParsed), string(offer.StateAwaitingConfirmation))
	metrics.RecordOutcome("hire", "ok")
	log.Info(ctx, "confirmation prompt posted",
		logger.String("offer_id", rec.OfferID),
		logger.String("user_id", cmd.UserID),
		logger.String("channel_id", cmd.ChannelID),
	)
	return nil
}

// prepare stamps a freshly parsed record and moves it to awaiting confirmation.
func (s *Service) prepare(rec *offer.Record, userID string) error {
	id, err := offer.NewID()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	rec.OfferID = id
	rec.HiringManager = "<@" + userID + ">"
	rec.CreatedAt = now
	if rec.State == "" {
		rec.State = offer.StateParsed
	}
	if err := rec.Validate(s.totalShares); err != nil {
		return failure.WrapKind("workflow.prepare", failure.ErrParse, err)
	}
	return rec.Transition(offer.StateAwaitingConfirmation, now)
}

// Confirm records a confirmed hire and sends the onboarding form.
//
// The ledger claim makes the step idempotent: a second delivery of the same
// button finds the offer already claimed and does nothing. Once the row is
// appended nothing is rolled back; later failures are reported as a
// degraded success in the thread.
func (s *Service) Confirm(ctx context.Context, act model.Action) error {
	log := s.logger.Named("confirm")

	p, err := s.sealer.Open(act.Value, resume.StageDecision)
	if err != nil {
		metrics.RecordOutcome("confirm", failure.Label(err))
		_ = s.respond(ctx, act.ResponseURL, chat.Notice(chat.TextFailure, ""))
		return err
	}
	channel := firstNonEmpty(act.ChannelID, p.Channel)
	promptTS := firstNonEmpty(act.MessageTS, p.MessageTS)

	rec := p.Offer
	from := rec.State
	if err := rec.Transition(offer.StateConfirmed, s.now().UTC()); err != nil {
		metrics.RecordOutcome("confirm", failure.Label(err))
		_ = s.respond(ctx, act.ResponseURL, chat.Notice(chat.TextFailure, ""))
		return err
	}

	claimed, cur, err := s.ledger.Claim(ctx, rec)
	if err != nil {
		metrics.RecordOutcome("confirm", failure.Label(err))
		_ = s.respond(ctx, act.ResponseURL, chat.Notice(chat.TextFailure, ""))
		return err
	}
	if !claimed {
		metrics.RecordDuplicate("confirm")
		log.Info(ctx, "offer already decided", logger.String("offer_id", rec.OfferID), logger.String("state", string(cur.State)))
		if cur.State == offer.StateCancelled {
			return s.respond(ctx, act.ResponseURL, chat.Notice(chat.TextWasCancelled, ""))
		}
		return nil
	}

	row, err := s.records.Append(ctx, rec)
	if err != nil {
		if rerr := s.ledger.Release(ctx, rec.OfferID, offer.StateConfirmed); rerr != nil {
			log.Error(ctx, "could not release claim", logger.String("offer_id", rec.OfferID), logger.Error(rerr))
		}
		metrics.RecordOutcome("confirm", failure.Label(err))
		_ = s.respond(ctx, act.ResponseURL, chat.Notice(chat.TextFailure, ""))
		return err
	}

	// Durability boundary: the hire is logged.
	rec.RowRef = row
	s.advance(ctx, rec, offer.StateConfirmed)
	metrics.RecordTransition(string(from), string(offer.StateConfirmed))
	log.Info(ctx, "hire logged", logger.String("offer_id", rec.OfferID), logger.Int("row", row))

	s.replacePrompt(ctx, channel, promptTS, act.ResponseURL, chat.Confirmed(rec))
	s.sendOnboarding(ctx, rec, channel, promptTS, act.ResponseURL)
	metrics.RecordOutcome("confirm", "ok")
	return nil
}

// sendOnboarding resolves the new hire and DMs them the form. Every failure
// here is a degraded success.
func (s *Service) sendOnboarding(ctx context.Context, rec offer.Record, channel, threadTS, responseURL string) {
	log := s.logger.Named("confirm")
	if rec.Handle == "" {
		s.notifyThread(ctx, channel, responseURL, chat.Notice(chat.TextNoHandle, threadTS))
		return
	}

	degrade := func(step string, err error) {
		metrics.RecordDegraded(step)
		log.Warn(ctx, "hire logged but new hire not notified",
			logger.String("offer_id", rec.OfferID),
			logger.String("step", step),
			logger.String("slack_error", chat.ErrorCode(err)),
			logger.Error(err),
		)
		s.notifyThread(ctx, channel, responseURL, chat.NotifyFailed(rec.Handle, err, threadTS))
	}

	userID, err := s.messenger.ResolveHandle(ctx, rec.Handle)
	if err != nil {
		degrade("resolve_handle", err)
		return
	}
	dm, err := s.messenger.OpenDirectChannel(ctx, userID)
	if err != nil {
		degrade("open_dm", err)
		return
	}

	awaiting := rec.Clone()
	if err := awaiting.Transition(offer.StateAwaitingOnboarding, s.now().UTC()); err != nil {
		degrade("transition", err)
		return
	}
	payload, err := s.sealer.Seal(resume.Payload{
		Stage:    resume.StageOnboarding,
		Offer:    awaiting,
		Channel:  channel,
		ThreadTS: threadTS,
	})
	if err != nil {
		degrade("seal", err)
		return
	}
	if _, err := s.messenger.PostMessage(ctx, dm, chat.OnboardingForm(awaiting, payload)); err != nil {
		degrade("send_form", err)
		return
	}

	s.advance(ctx, awaiting, offer.StateConfirmed)
	metrics.RecordTransition(string(offer.StateConfirmed), string(offer.StateAwaitingOnboarding))
	log.Info(ctx, "onboarding form sent", logger.String("offer_id", rec.OfferID), logger.String("user_id", userID))
	s.notifyThread(ctx, channel, responseURL, chat.OnboardingSent(rec.Handle, threadTS))
}

// Cancel marks an undecided offer cancelled and edits the prompt.
func (s *Service) Cancel(ctx context.Context, act model.Action) error {
	log := s.logger.Named("cancel")

	p, err := s.sealer.Open(act.Value, resume.StageDecision)
	if err != nil {
		metrics.RecordOutcome("cancel", failure.Label(err))
		_ = s.respond(ctx, act.ResponseURL, chat.Notice(chat.TextFailure, ""))
		return err
	}
	rec := p.Offer
	from := rec.State
	if err := rec.Transition(offer.StateCancelled, s.now().UTC()); err != nil {
		metrics.RecordOutcome("cancel", failure.Label(err))
		return err
	}

	claimed, cur, err := s.ledger.Claim(ctx, rec)
	if err != nil {
		metrics.RecordOutcome("cancel", failure.Label(err))
		_ = s.respond(ctx, act.ResponseURL, chat.Notice(chat.TextFailure, ""))
		return err
	}
	if !claimed {
		metrics.RecordDuplicate("cancel")
		if cur.State.AtLeast(offer.StateConfirmed) {
			return s.respond(ctx, act.ResponseURL, chat.Notice(chat.TextWasConfirmed, ""))
		}
		return nil
	}

	metrics.RecordTransition(string(from), string(offer.StateCancelled))
	metrics.RecordOutcome("cancel", "ok")
	log.Info(ctx, "offer cancelled", logger.String("offer_id", rec.OfferID), logger.String("user_id", act.UserID))
	s.replacePrompt(ctx, firstNonEmpty(act.ChannelID, p.Channel), firstNonEmpty(act.MessageTS, p.MessageTS), act.ResponseURL, chat.Cancelled())
	return nil
}

// SubmitOnboarding validates the new hire's form, provisions their payroll
// profile on a best-effort basis and records the result.
func (s *Service) SubmitOnboarding(ctx context.Context, act model.Action) error {
	log := s.logger.Named("onboarding")

	p, err := s.sealer.Open(act.Value, resume.StageOnboarding)
	if err != nil {
		metrics.RecordOutcome("onboarding", failure.Label(err))
		_ = s.respond(ctx, act.ResponseURL, chat.Notice(chat.TextSaveFailure, ""))
		return err
	}

	ob := offer.Onboarding{
		FullName:      act.Form[model.FieldFullName],
		Address:       act.Form[model.FieldAddress],
		PersonalEmail: act.Form[model.FieldPersonalEmail],
		PhoneNumber:   act.Form[model.FieldPhoneNumber],
		CurrentTitle:  act.Form[model.FieldCurrentTitle],
		SubmittedAt:   s.now().UTC(),
	}
	if err := ob.Validate(); err != nil {
		metrics.RecordOutcome("onboarding", failure.Label(err))
		log.Info(ctx, "onboarding form rejected", logger.String("offer_id", p.Offer.OfferID), logger.Error(err))
		return s.respond(ctx, act.ResponseURL, chat.ValidationProblem(err))
	}

	base, err := s.current(ctx, p.Offer)
	if err != nil {
		metrics.RecordOutcome("onboarding", failure.Label(err))
		_ = s.respond(ctx, act.ResponseURL, chat.Notice(chat.TextSaveFailure, ""))
		return err
	}
	if base.State == offer.StateOnboarded {
		metrics.RecordDuplicate("submit")
		s.replaceForm(ctx, act, chat.Thanks(base))
		return nil
	}

	s.provision(ctx, base, &ob)

	next := base.Clone()
	next.Onboarding = &ob
	from := next.State
	if err := next.Transition(offer.StateOnboarded, s.now().UTC()); err != nil {
		metrics.RecordOutcome("onboarding", failure.Label(err))
		_ = s.respond(ctx, act.ResponseURL, chat.Notice(chat.TextSaveFailure, ""))
		return err
	}

	row, err := s.persistOnboarding(ctx, next)
	if err != nil {
		metrics.RecordOutcome("onboarding", failure.Label(err))
		_ = s.respond(ctx, act.ResponseURL, chat.Notice(chat.TextSaveFailure, ""))
		return err
	}
	next.RowRef = row

	// The merged row is durable from here on.
	ok, err := s.ledger.Advance(ctx, next, offer.StateConfirmed, offer.StateAwaitingOnboarding)
	if err != nil {
		log.Error(ctx, "could not advance ledger", logger.String("offer_id", next.OfferID), logger.Error(err))
	} else if !ok {
		// A concurrent submission won. Its record is authoritative, so the
		// row is rewritten with it.
		metrics.RecordDuplicate("submit")
		if cur, gerr := s.ledger.Get(ctx, next.OfferID); gerr == nil && cur.State == offer.StateOnboarded {
			next = cur
			if uerr := s.records.UpdateRow(ctx, row, cur); uerr != nil {
				log.Error(ctx, "could not restore winning submission", logger.String("offer_id", cur.OfferID), logger.Error(uerr))
			}
		}
	}

	metrics.RecordTransition(string(from), string(offer.StateOnboarded))
	metrics.RecordOutcome("onboarding", "ok")
	log.Info(ctx, "onboarding recorded",
		logger.String("offer_id", next.OfferID),
		logger.Int("row", next.RowRef),
		logger.Bool("provisioned", next.ProfileID() != ""),
	)

	s.replaceForm(ctx, act, chat.Thanks(next))
	if p.Channel != "" {
		s.notifyThread(ctx, p.Channel, "", chat.OnboardingReceived(next, p.ThreadTS))
	}
	return nil
}

// current returns the ledger's copy of rec, claiming rec when the ledger has
// never seen it (for example after switching to a fresh backend).
func (s *Service) current(ctx context.Context, rec offer.Record) (offer.Record, error) {
	cur, err := s.ledger.Get(ctx, rec.OfferID)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, failure.ErrNotFound) {
		return offer.Record{}, err
	}
	_, cur, err = s.ledger.Claim(ctx, rec)
	return cur, err
}

// provision makes sure the payroll profile exists and records it on ob.
// A profile already known to the ledger or to the provisioning service is
// reused, so a resubmission never creates a second one. Failure never
// blocks the submission.
func (s *Service) provision(ctx context.Context, rec offer.Record, ob *offer.Onboarding) {
	log := s.logger.Named("onboarding")
	if id := rec.ProfileID(); id != "" {
		ob.ProvisioningProfileID, ob.ProvisioningError = &id, ""
		return
	}

	candidateID := deel.CandidateID(rec.OfferID)
	if s.candidateExists(ctx, candidateID) {
		log.Info(ctx, "payroll profile already exists", logger.String("offer_id", rec.OfferID))
		s.keepProfile(ctx, rec, ob, candidateID)
		return
	}

	first, last, err := offer.SplitName(ob.FullName)
	if err == nil {
		var id string
		id, err = s.provisioner.CreateCandidate(ctx, rec.OfferID, deel.Candidate{
			FirstName: first,
			LastName:  last,
			Email:     ob.PersonalEmail,
			Role:      rec.Role,
			StartDate: rec.StartDate,
		})
		if err == nil {
			s.keepProfile(ctx, rec, ob, id)
			return
		}
		// A concurrent submission may have created it first.
		if s.candidateExists(ctx, candidateID) {
			s.keepProfile(ctx, rec, ob, candidateID)
			return
		}
	}
	metrics.RecordDegraded("provision")
	ob.ProvisioningProfileID = nil
	ob.ProvisioningError = provisioningNote(err)
	log.Warn(ctx, "payroll profile not created",
		logger.String("offer_id", rec.OfferID),
		logger.String("kind", failure.Label(err)),
		logger.Error(err),
	)
}

// candidateExists asks the provisioning service for id. Any answer other
// than a status counts as absent.
func (s *Service) candidateExists(ctx context.Context, id string) bool {
	_, err := s.provisioner.CandidateStatus(ctx, id)
	if err != nil && !errors.Is(err, failure.ErrNotFound) {
		s.logger.Named("onboarding").Warn(ctx, "candidate status unavailable", logger.String("candidate_id", id), logger.Error(err))
	}
	return err == nil
}

// keepProfile sets the profile on ob and stores it in the ledger without
// changing the offer's state, so a later resubmission reuses it even when
// the rest of this submission fails.
func (s *Service) keepProfile(ctx context.Context, rec offer.Record, ob *offer.Onboarding, id string) {
	ob.ProvisioningProfileID, ob.ProvisioningError = &id, ""
	keep := rec.Clone()
	keep.Onboarding = ob
	s.advance(ctx, keep, rec.State)
}

// persistOnboarding writes the merged record over the hire's row, looking
// the row up by handle when the offer does not know it, and appending when
// no row exists.
func (s *Service) persistOnboarding(ctx context.Context, rec offer.Record) (int, error) {
	row := rec.RowRef
	if row == 0 && rec.Handle != "" {
		found, err := s.records.FindLastRowByHandle(ctx, rec.Handle)
		switch {
		case err == nil:
			row = found
		case !errors.Is(err, failure.ErrNotFound):
			return 0, err
		}
	}
	if row == 0 {
		return s.records.Append(ctx, rec)
	}
	return row, s.records.UpdateRow(ctx, row, rec)
}

// advance stores rec if the ledger still holds it in from. A failure only
// loses bookkeeping; the hire log already has the row.
func (s *Service) advance(ctx context.Context, rec offer.Record, from ...offer.State) {
	ok, err := s.ledger.Advance(ctx, rec, from...)
	if err != nil || !ok {
		s.logger.Warn(ctx, "ledger not advanced",
			logger.String("offer_id", rec.OfferID),
			logger.String("state", string(rec.State)),
			logger.Bool("matched", ok),
			logger.Error(err),
		)
	}
}

func (s *Service) replacePrompt(ctx context.Context, channel, ts, responseURL string, msg chat.Message) {
	if channel != "" && ts != "" {
		err := s.messenger.UpdateMessage(ctx, channel, ts, msg)
		if err == nil {
			return
		}
		s.logger.Warn(ctx, "could not update prompt", logger.String("channel_id", channel), logger.Error(err))
	}
	if responseURL == "" {
		return
	}
	if err := s.messenger.Respond(ctx, responseURL, msg, true, true); err != nil {
		s.logger.Warn(ctx, "could not replace prompt", logger.Error(err))
	}
}

func (s *Service) replaceForm(ctx context.Context, act model.Action, msg chat.Message) {
	s.replacePrompt(ctx, act.ChannelID, act.MessageTS, act.ResponseURL, msg)
}

// notifyThread posts a status update under the prompt.
func (s *Service) notifyThread(ctx context.Context, channel, responseURL string, msg chat.Message) {
	_, err := s.messenger.PostMessage(ctx, channel, msg)
	if err == nil {
		return
	}
	s.logger.Warn(ctx, "could not post thread notice", logger.String("channel_id", channel), logger.Error(err))
	if responseURL != "" {
		if err := s.messenger.Respond(ctx, responseURL, msg, false, true); err != nil {
			s.logger.Warn(ctx, "could not respond with thread notice", logger.Error(err))
		}
	}
}

// respond sends an ephemeral reply to the user who triggered the callback.
func (s *Service) respond(ctx context.Context, responseURL string, msg chat.Message) error {
	if responseURL == "" {
		return nil
	}
	return s.messenger.Respond(ctx, responseURL, msg, false, false)
}

func notInChannel(err error) bool {
	switch chat.ErrorCode(err) {
	case "not_in_channel", "channel_not_found":
		return true
	}
	return false
}

func provisioningNote(err error) string {
	if err == nil {
		return ""
	}
	return chat.Truncate(err.Error(), 200)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
