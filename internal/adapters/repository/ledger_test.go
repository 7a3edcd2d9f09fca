package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
)

func newOffer(t *testing.T) offer.Record {
	t.Helper()
	id, err := offer.NewID()
	if err != nil {
		t.Fatalf("offer id: %v", err)
	}
	return offer.Record{
		OfferID:       id,
		HiringManager: "<@U123>",
		Role:          "Software Engineer",
		Salary:        "$130,000",
		EquityPercent: "0.66%",
		EquityShares:  66_000,
		StartDate:     "May 1, 2026",
		Handle:        "<@U456>",
		State:         offer.StateConfirmed,
		RowRef:        7,
	}
}

// testLedger runs the behaviour every backend must share.
func testLedger(t *testing.T, l Ledger) {
	ctx := context.Background()

	t.Run("ClaimOnce", func(t *testing.T) {
		rec := newOffer(t)
		claimed, _, err := l.Claim(ctx, rec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !claimed {
			t.Fatal("expected first claim to win")
		}

		again := rec
		again.RowRef = 99
		claimed, cur, err := l.Claim(ctx, again)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if claimed {
			t.Error("expected second claim to lose")
		}
		if cur.RowRef != 7 || cur.EquityPercent != "0.66%" || cur.State != offer.StateConfirmed {
			t.Errorf("expected stored offer back, got %+v", cur)
		}
	})

	t.Run("ConcurrentClaims", func(t *testing.T) {
		rec := newOffer(t)
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, _, err := l.Claim(ctx, rec)
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if claimed {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		if n := wins.Load(); n != 1 {
			t.Errorf("expected exactly one winning claim, got %d", n)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := l.Get(ctx, "missing-offer")
		if !errors.Is(err, ErrNotFound) || !errors.Is(err, failure.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("AdvanceCompareAndSet", func(t *testing.T) {
		rec := newOffer(t)
		if _, _, err := l.Claim(ctx, rec); err != nil {
			t.Fatalf("claim: %v", err)
		}

		next := rec.Clone()
		profile := "hire_" + rec.OfferID
		next.State = offer.StateOnboarded
		next.Onboarding = &offer.Onboarding{FullName: "Ada Lovelace", ProvisioningProfileID: &profile}

		ok, err := l.Advance(ctx, next, offer.StateConfirmed, offer.StateAwaitingOnboarding)
		if err != nil || !ok {
			t.Fatalf("expected advance, got ok=%v err=%v", ok, err)
		}
		ok, err = l.Advance(ctx, next, offer.StateConfirmed, offer.StateAwaitingOnboarding)
		if err != nil || ok {
			t.Errorf("expected stale advance to be refused, got ok=%v err=%v", ok, err)
		}

		got, err := l.Get(ctx, rec.OfferID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.State != offer.StateOnboarded || got.ProfileID() != profile {
			t.Errorf("unexpected stored offer %+v", got)
		}
	})

	t.Run("AdvanceMissing", func(t *testing.T) {
		rec := newOffer(t)
		_, err := l.Advance(ctx, rec, offer.StateConfirmed)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
		_, err = l.Advance(ctx, rec)
		if !errors.Is(err, failure.ErrValidation) {
			t.Errorf("expected validation error without source states, got %v", err)
		}
	})

	t.Run("Release", func(t *testing.T) {
		rec := newOffer(t)
		if _, _, err := l.Claim(ctx, rec); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := l.Release(ctx, rec.OfferID, offer.StateOnboarded); err != nil {
			t.Fatalf("release: %v", err)
		}
		if _, err := l.Get(ctx, rec.OfferID); err != nil {
			t.Errorf("release in the wrong state must keep the offer, got %v", err)
		}
		if err := l.Release(ctx, rec.OfferID, offer.StateConfirmed); err != nil {
			t.Fatalf("release: %v", err)
		}
		if _, err := l.Get(ctx, rec.OfferID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected released offer to be gone, got %v", err)
		}
		claimed, _, err := l.Claim(ctx, rec)
		if err != nil || !claimed {
			t.Errorf("expected released offer to be claimable again, got claimed=%v err=%v", claimed, err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		before, err := l.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		rec := newOffer(t)
		if _, _, err := l.Claim(ctx, rec); err != nil {
			t.Fatalf("claim: %v", err)
		}
		cancelled := newOffer(t)
		cancelled.State = offer.StateCancelled
		if _, _, err := l.Claim(ctx, cancelled); err != nil {
			t.Fatalf("claim: %v", err)
		}
		after, err := l.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if d := after[offer.StateConfirmed] - before[offer.StateConfirmed]; d != 1 {
			t.Errorf("expected one more confirmed offer, got %d", d)
		}
		if d := after[offer.StateCancelled] - before[offer.StateCancelled]; d != 1 {
			t.Errorf("expected one more cancelled offer, got %d", d)
		}
	})
}

func TestMemoryLedger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := NewMemoryLedger(ctx, WithMetricsUpdateInterval(10*time.Millisecond))
	defer l.Close()
	testLedger(t, l)

	if err := l.Close(); err != nil {
		t.Errorf("second close must be a no-op, got %v", err)
	}
}

func TestMemoryLedgerIsolation(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(ctx)
	defer l.Close()

	rec := newOffer(t)
	profile := "hire_1"
	rec.Onboarding = &offer.Onboarding{FullName: "Ada Lovelace", ProvisioningProfileID: &profile}
	if _, _, err := l.Claim(ctx, rec); err != nil {
		t.Fatalf("claim: %v", err)
	}
	*rec.Onboarding.ProvisioningProfileID = "changed"

	got, err := l.Get(ctx, rec.OfferID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ProfileID() != "hire_1" {
		t.Errorf("stored offer shares memory with the caller: %s", got.ProfileID())
	}
}

func TestSQLiteLedger(t *testing.T) {
	ctx := context.Background()
	l, err := NewSQLiteLedger(ctx, filepath.Join(t.TempDir(), "data", "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()
	testLedger(t, l)
}

func TestSQLiteLedgerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := NewSQLiteLedger(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rec := newOffer(t)
	if _, _, err := l.Claim(ctx, rec); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l, err = NewSQLiteLedger(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()
	claimed, cur, err := l.Claim(ctx, rec)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed || cur.OfferID != rec.OfferID {
		t.Errorf("expected the offer to survive a restart, claimed=%v cur=%+v", claimed, cur)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	l, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := l.(*MemoryLedger); !ok {
		t.Errorf("expected memory ledger, got %T", l)
	}
	_ = l.Close()

	l, err = Open(ctx, Config{Driver: DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	_ = l.Close()

	if _, err := Open(ctx, Config{Driver: "cassandra"}); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("expected unknown driver, got %v", err)
	}
	if _, err := Open(ctx, Config{Driver: DriverSQLite}); !errors.Is(err, failure.ErrValidation) {
		t.Errorf("expected empty path to be rejected, got %v", err)
	}
}

func TestPostgresLedger(t *testing.T) {
	if os.Getenv("HIREBOT_PG_IT") == "" {
		t.Skip("set HIREBOT_PG_IT=1 to run against a Postgres container")
	}
	ctx := context.Background()

	pg, err := postgres.Run(ctx, "postgres:16",
		postgres.WithDatabase("hirebot"),
		postgres.WithUsername("hirebot"),
		postgres.WithPassword("hirebot"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = pg.Terminate(ctx) }()

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	l, err := NewPostgresLedger(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()
	testLedger(t, l)

	// Migrations are idempotent.
	again, err := NewPostgresLedger(ctx, dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = again.Close()
}

func TestValkeyLedger(t *testing.T) {
	addr := os.Getenv("HIREBOT_VALKEY_ADDR")
	if addr == "" {
		t.Skip("set HIREBOT_VALKEY_ADDR to run against valkey")
	}
	l, err := NewValkeyLedger(context.Background(), addr)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()
	testLedger(t, l)
}
