package service

import (
	"context"

	"github.com/Dan-Hightower/hirebot/internal/adapters/chat"
	"github.com/Dan-Hightower/hirebot/internal/adapters/deel"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
)

// Parser turns /hire text into an offer in the PARSED state.
type Parser interface {
	Parse(ctx context.Context, text string) (offer.Record, error)
}

// RecordStore is the human-facing hire log.
type RecordStore interface {
	// Append writes rec as a new row and returns its row number.
	Append(ctx context.Context, rec offer.Record) (int, error)
	// FindLastRowByHandle returns the most recent row for handle.
	FindLastRowByHandle(ctx context.Context, handle string) (int, error)
	// UpdateRow overwrites row with rec.
	UpdateRow(ctx context.Context, row int, rec offer.Record) error
}

// Provisioner creates the new hire's payroll profile.
type Provisioner interface {
	CreateCandidate(ctx context.Context, offerID string, cand deel.Candidate) (string, error)
	// CandidateStatus fails with failure.ErrNotFound when no candidate has id.
	CandidateStatus(ctx context.Context, id string) (string, error)
}

// Messenger is the chat transport.
type Messenger interface {
	PostMessage(ctx context.Context, channel string, msg chat.Message) (string, error)
	UpdateMessage(ctx context.Context, channel, ts string, msg chat.Message) error
	OpenDirectChannel(ctx context.Context, userID string) (string, error)
	ResolveHandle(ctx context.Context, handle string) (string, error)
	Respond(ctx context.Context, responseURL string, msg chat.Message, replaceOriginal, inChannel bool) error
}
