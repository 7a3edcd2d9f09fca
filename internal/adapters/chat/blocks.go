package chat

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/model"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
)

// Message is a chat message: fallback text plus optional blocks.
type Message struct {
	Text     string
	Blocks   []slack.Block
	ThreadTS string
}

// Block and action identifiers shared with the interaction decoder.
const (
	ActionsBlockID = "hire_actions"
	FormBlockID    = "hire_form_submit"
	inputSuffix    = "_input"
)

// Fixed texts.
const (
	textFormat        = "Format: `/hire @username as role for salary with equity starting date`"
	TextParseFailure  = "Sorry, I had trouble understanding that. Could you rephrase it? " + textFormat
	TextFailure       = "❌ Sorry, something went wrong while processing the hire. Please try again."
	TextCancelled     = "❌ Hire cancelled. Please submit a new `/hire` command with the correct details."
	TextBusy          = "I'm a bit busy right now. Please try again in a moment."
	TextWorking       = "Got it, reading your hire request…"
	TextNoHandle      = "✅ Hire logged successfully. No Slack handle was given, so no onboarding form was sent."
	TextWasCancelled  = "This hire was cancelled. Please submit a new `/hire` command."
	TextWasConfirmed  = "This hire was already confirmed, so it can no longer be cancelled."
	TextSaveFailure   = "❌ Sorry, something went wrong while saving your information. Please try again."
	textDegradePrefix = "✅ Hire logged successfully, but "
)

func mrkdwn(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, s, false, false)
}

func plain(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, s, true, false)
}

func section(s string) *slack.SectionBlock {
	return slack.NewSectionBlock(mrkdwn(s), nil, nil)
}

func detailFields(rec offer.Record) []*slack.TextBlockObject {
	return []*slack.TextBlockObject{
		mrkdwn("*Role:*\n" + rec.Role),
		mrkdwn("*Salary:*\n" + rec.Salary),
		mrkdwn(fmt.Sprintf("*Equity:*\n%s\n(%s shares)", rec.EquityPercent, rec.SharesDisplay())),
		mrkdwn("*Start Date:*\n" + rec.StartDate),
	}
}

// ConfirmationPrompt asks the hiring manager to confirm or cancel. Both
// buttons carry the sealed payload.
func ConfirmationPrompt(rec offer.Record, payload string) Message {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain("🎉 New Hire Details")),
		section(fmt.Sprintf("Hey %s! I've parsed your hiring request. Here's what I understood:", rec.HiringManager)),
		slack.NewSectionBlock(nil, detailFields(rec), nil),
	}
	if rec.Handle != "" {
		blocks = append(blocks, section("*New Hire:* "+rec.Handle))
	}
	blocks = append(blocks,
		section("If everything looks correct, click *Confirm* to:\n• Log the hire in our tracking sheet\n• Send an onboarding form to the new hire"),
		slack.NewActionBlock(ActionsBlockID,
			slack.NewButtonBlockElement(string(model.KindConfirm), payload, plain("✅ Confirm")).WithStyle(slack.StylePrimary),
			slack.NewButtonBlockElement(string(model.KindCancel), payload, plain("❌ Cancel")).WithStyle(slack.StyleDanger),
		),
	)
	return Message{Text: "Please confirm the hire details", Blocks: blocks}
}

// Confirmed replaces the prompt once the hire is logged.
func Confirmed(rec offer.Record) Message {
	text := fmt.Sprintf("✅ Hire logged successfully! I've recorded the following details:\n• Role: %s\n• Salary: %s\n• Equity: %s (%s shares)\n• Start Date: %s",
		rec.Role, rec.Salary, rec.EquityPercent, rec.SharesDisplay(), rec.StartDate)
	if rec.Handle != "" {
		text += "\n• New Hire: " + rec.Handle
	}
	return Message{Text: text, Blocks: []slack.Block{section(text)}}
}

// Cancelled replaces the prompt after cancellation.
func Cancelled() Message {
	return Message{Text: TextCancelled, Blocks: []slack.Block{section(TextCancelled)}}
}

// Notice is a plain text message, optionally threaded.
func Notice(text, threadTS string) Message {
	return Message{Text: text, ThreadTS: threadTS}
}

// OnboardingSent tells the thread the form went out.
func OnboardingSent(handle, threadTS string) Message {
	return Notice(fmt.Sprintf("✅ Hire logged successfully and I've sent the onboarding form to %s! 📬", handle), threadTS)
}

// NotifyFailed is the degraded notice when the record is logged but the
// new hire could not be reached.
func NotifyFailed(handle string, err error, threadTS string) Message {
	var text string
	switch code := ErrorCode(err); {
	case errors.Is(err, failure.ErrNotFound) && code == "":
		text = fmt.Sprintf("I couldn't find %s in this workspace, so the onboarding form was not sent.", handle)
	case code == "cannot_dm_bot" || code == "not_in_channel" || code == "user_not_visible" || code == "channel_not_found":
		text = fmt.Sprintf("I couldn't send a DM to %s. Please make sure they are in the workspace and can receive DMs from apps.", handle)
	case code == "user_not_found" || code == "user_disabled" || code == "account_inactive":
		text = fmt.Sprintf("%s doesn't look like an active member of this workspace, so the onboarding form was not sent.", handle)
	case code == "ratelimited":
		text = fmt.Sprintf("Slack is rate limiting me, so the onboarding form for %s was not sent. Please send it again later.", handle)
	default:
		text = fmt.Sprintf("I couldn't send the onboarding form to %s. Error: %s", handle, shortError(err))
	}
	return Notice(textDegradePrefix+text, threadTS)
}

// OnboardingForm is the DM asking the new hire for their details.
func OnboardingForm(rec offer.Record, payload string) Message {
	greeting := "Hey"
	if rec.Handle != "" {
		greeting += " " + rec.Handle
	}
	welcome := fmt.Sprintf("%s! Welcome to the team! 🎉\n\nI'm excited to let you know that %s has confirmed your hire:\n• Role: %s\n• Start Date: %s\n\nPlease fill in the details below so we can get you set up.",
		greeting, rec.HiringManager, rec.Role, rec.StartDate)

	input := func(field, label, placeholder string, optional bool) *slack.InputBlock {
		b := slack.NewInputBlock(field, plain(label), nil,
			slack.NewPlainTextInputBlockElement(plain(placeholder), field+inputSuffix))
		b.Optional = optional
		return b
	}
	blocks := []slack.Block{
		section(welcome),
		slack.NewDividerBlock(),
		input(model.FieldFullName, "Full Legal Name", "First and last name", false),
		input(model.FieldAddress, "Address", "Street, city, state, ZIP", false),
		input(model.FieldPersonalEmail, "Personal Email", "you@example.com", false),
		input(model.FieldPhoneNumber, "Phone Number", "+1 555 0100", false),
		input(model.FieldCurrentTitle, "Current Title", "Optional", true),
		slack.NewActionBlock(FormBlockID,
			slack.NewButtonBlockElement(string(model.KindSubmit), payload, plain("Submit")).WithStyle(slack.StylePrimary),
		),
	}
	return Message{Text: "Welcome to the team! 🎉", Blocks: blocks}
}

// Thanks replaces the form after a successful submission.
func Thanks(rec offer.Record) Message {
	text := "Thanks for submitting your information! 🎉 The team has everything needed to get you started."
	if id := rec.ProfileID(); id != "" {
		text += fmt.Sprintf("\n\n*Deel Profile ID:* `%s`", id)
	} else {
		text += "\n\nYour payroll profile will be set up by the team shortly."
	}
	return Message{Text: "Thanks for submitting your information! 🎉", Blocks: []slack.Block{section(text)}}
}

// OnboardingReceived tells the originating thread the form came back.
func OnboardingReceived(rec offer.Record, threadTS string) Message {
	who := rec.Handle
	if who == "" && rec.Onboarding != nil {
		who = rec.Onboarding.FullName
	}
	if id := rec.ProfileID(); id != "" {
		return Notice(fmt.Sprintf("📋 %s submitted their onboarding details. Deel profile created: `%s`", who, id), threadTS)
	}
	reason := "unknown error"
	if rec.Onboarding != nil && rec.Onboarding.ProvisioningError != "" {
		reason = rec.Onboarding.ProvisioningError
	}
	return Notice(fmt.Sprintf("📋 %s submitted their onboarding details and they were saved, but the Deel profile could not be created (%s). Please create it manually.", who, reason), threadTS)
}

// ValidationProblem asks the new hire to fix their submission.
func ValidationProblem(err error) Message {
	msg := "Some details look incomplete"
	var ke *failure.KindError
	if errors.As(err, &ke) && ke.Err != nil {
		msg = ke.Err.Error()
	}
	return Notice(fmt.Sprintf("⚠️ %s. Please correct it and submit again. Your full legal name needs both a first and a last name.", upperFirst(msg)), "")
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func shortError(err error) string {
	if code := ErrorCode(err); code != "" {
		return code
	}
	if err == nil {
		return "unknown"
	}
	return Truncate(err.Error(), 200)
}

// Truncate shortens s to at most n bytes without splitting a rune, marking
// the cut with an ellipsis.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
