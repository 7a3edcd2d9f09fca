// Package repository holds the workflow ledger: the durable record of each
// offer's state and the single place where concurrent deliveries of the
// same action are serialized.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
	"github.com/Dan-Hightower/hirebot/pkg/metrics"
)

// Ledger stores offers keyed by offer ID.
type Ledger interface {
	// Claim inserts rec if no offer with its ID exists. When one does, claimed
	// is false and current holds the stored offer.
	Claim(ctx context.Context, rec offer.Record) (claimed bool, current offer.Record, err error)

	// Get returns the stored offer or ErrNotFound.
	Get(ctx context.Context, offerID string) (offer.Record, error)

	// Advance replaces the stored offer with rec if its current state is one
	// of from. It reports false when the state did not match and ErrNotFound
	// when the offer is unknown.
	Advance(ctx context.Context, rec offer.Record, from ...offer.State) (bool, error)

	// Release deletes the offer if it is still in state.
	Release(ctx context.Context, offerID string, state offer.State) error

	// Stats counts stored offers per state.
	Stats(ctx context.Context) (map[offer.State]int, error)

	Close() error
}

func encode(rec offer.Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, failure.WrapKind("ledger.encode", failure.ErrPermanent, err)
	}
	return b, nil
}

func decode(b []byte) (offer.Record, error) {
	var rec offer.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return offer.Record{}, failure.WrapKind("ledger.decode", failure.ErrPermanent, err)
	}
	return rec, nil
}

func checkAdvance(rec offer.Record, from []offer.State) error {
	if rec.OfferID == "" {
		return failure.Newf("ledger.advance", failure.ErrValidation, "missing offer id")
	}
	if len(from) == 0 {
		return failure.Newf("ledger.advance", failure.ErrValidation, "no source state for %s", rec.OfferID)
	}
	return nil
}

func stateNames(states []offer.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func observe(backend, op string, start time.Time, err error) {
	metrics.ObserveLedger(backend, op, failure.Label(err), time.Since(start))
}

func notFound(op, id string) error {
	return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
}
