// Package model contains domain models passed between layers.
package model

import "time"

// JobKind names the workflow step a job drives.
type JobKind string

// Job kinds, one per inbound Slack callback.
const (
	KindHireCommand JobKind = "hire_command"
	KindConfirm     JobKind = "confirm_hire"
	KindCancel      JobKind = "reject_hire"
	KindSubmit      JobKind = "submit_hire_info"
)

// Job is one inbound callback queued for asynchronous handling.
type Job struct {
	ID         string    // delivery key used for deduplication
	Kind       JobKind   // which step to run
	Command    *Command  // set for KindHireCommand
	Action     *Action   // set for button kinds
	ReceivedAt time.Time // when the HTTP layer accepted it
}

// Command is a slash command invocation.
type Command struct {
	Text        string
	UserID      string
	UserName    string
	ChannelID   string
	ResponseURL string
	TriggerID   string
}

// Action is a button press, optionally with the form state of the message.
type Action struct {
	ActionID    string
	Value       string // sealed resume payload
	UserID      string
	ChannelID   string
	MessageTS   string
	ThreadTS    string
	ResponseURL string
	Form        map[string]string // block_id -> submitted value
}

// Form block identifiers for the onboarding message.
const (
	FieldFullName      = "full_name"
	FieldAddress       = "address"
	FieldPersonalEmail = "personal_email"
	FieldPhoneNumber   = "phone_number"
	FieldCurrentTitle  = "current_title"
)

// Valid reports whether the job carries what its kind needs.
func (j *Job) Valid() bool {
	switch j.Kind {
	case KindHireCommand:
		return j.Command != nil
	case KindConfirm, KindCancel, KindSubmit:
		return j.Action != nil && j.Action.Value != ""
	}
	return false
}
