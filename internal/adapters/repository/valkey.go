package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
)

const backendValkey = "valkey"

// Keys share the {hirebot} hash tag so scripts touching an offer and the
// state counters stay on one slot.
const (
	valkeyOfferPrefix = "{hirebot}:offer:"
	valkeyStatsKey    = "{hirebot}:offer_states"
)

// KEYS[1] offer hash, KEYS[2] counters; ARGV[1] state, ARGV[2] document.
// Returns the stored document when the offer already exists.
var claimScript = valkey.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('HGET', KEYS[1], 'doc')
end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'doc', ARGV[2])
redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
return false
`)

// ARGV[1] new state, ARGV[2] document, ARGV[3..] accepted source states.
// Returns 1 on swap, 0 on state mismatch, -1 when missing.
var advanceScript = valkey.NewLuaScript(`
local cur = redis.call('HGET', KEYS[1], 'state')
if not cur then
  return -1
end
for i = 3, #ARGV do
  if ARGV[i] == cur then
    redis.call('HSET', KEYS[1], 'state', ARGV[1], 'doc', ARGV[2])
    redis.call('HINCRBY', KEYS[2], cur, -1)
    redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
    return 1
  end
end
return 0
`)

// ARGV[1] state the offer must still be in.
var releaseScript = valkey.NewLuaScript(`
if redis.call('HGET', KEYS[1], 'state') == ARGV[1] then
  redis.call('DEL', KEYS[1])
  redis.call('HINCRBY', KEYS[2], ARGV[1], -1)
  return 1
end
return 0
`)

// ValkeyLedger is a Ledger on valkey (or Redis) with Lua scripts providing
// the conditional writes.
type ValkeyLedger struct {
	client valkey.Client
}

var _ Ledger = (*ValkeyLedger)(nil)

// NewValkeyLedger connects to addr.
func NewValkeyLedger(ctx context.Context, addr string) (*ValkeyLedger, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect valkey ledger: %w", err)
	}
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey ledger: %w", err)
	}
	return &ValkeyLedger{client: client}, nil
}

func offerKey(id string) string { return valkeyOfferPrefix + id }

// Claim implements Ledger.
func (s *ValkeyLedger) Claim(ctx context.Context, rec offer.Record) (claimed bool, current offer.Record, err error) {
	start := time.Now()
	defer func() { observe(backendValkey, "claim", start, err) }()

	doc, err := encode(rec)
	if err != nil {
		return false, offer.Record{}, err
	}
	existing, err := claimScript.Exec(ctx, s.client,
		[]string{offerKey(rec.OfferID), valkeyStatsKey},
		[]string{string(rec.State), string(doc)},
	).ToString()
	if valkey.IsValkeyNil(err) {
		return true, rec, nil
	}
	if err != nil {
		return false, offer.Record{}, storeError("ledger.claim", err)
	}
	cur, err := decode([]byte(existing))
	return false, cur, err
}

// Get implements Ledger.
func (s *ValkeyLedger) Get(ctx context.Context, offerID string) (rec offer.Record, err error) {
	start := time.Now()
	defer func() { observe(backendValkey, "get", start, err) }()

	doc, err := s.client.Do(ctx, s.client.B().Hget().Key(offerKey(offerID)).Field("doc").Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return offer.Record{}, notFound("get", offerID)
	}
	if err != nil {
		return offer.Record{}, storeError("ledger.get", err)
	}
	return decode([]byte(doc))
}

// Advance implements Ledger.
func (s *ValkeyLedger) Advance(ctx context.Context, rec offer.Record, from ...offer.State) (ok bool, err error) {
	start := time.Now()
	defer func() { observe(backendValkey, "advance", start, err) }()
	if err := checkAdvance(rec, from); err != nil {
		return false, err
	}

	doc, err := encode(rec)
	if err != nil {
		return false, err
	}
	args := append([]string{string(rec.State), string(doc)}, stateNames(from)...)
	res, err := advanceScript.Exec(ctx, s.client, []string{offerKey(rec.OfferID), valkeyStatsKey}, args).AsInt64()
	if err != nil {
		return false, storeError("ledger.advance", err)
	}
	switch res {
	case 1:
		return true, nil
	case -1:
		return false, notFound("advance", rec.OfferID)
	}
	return false, nil
}

// Release implements Ledger.
func (s *ValkeyLedger) Release(ctx context.Context, offerID string, state offer.State) (err error) {
	start := time.Now()
	defer func() { observe(backendValkey, "release", start, err) }()

	err = releaseScript.Exec(ctx, s.client, []string{offerKey(offerID), valkeyStatsKey}, []string{string(state)}).Error()
	return storeError("ledger.release", err)
}

// Stats implements Ledger. Counts come from the counters the scripts keep.
func (s *ValkeyLedger) Stats(ctx context.Context) (map[offer.State]int, error) {
	raw, err := s.client.Do(ctx, s.client.B().Hgetall().Key(valkeyStatsKey).Build()).AsStrMap()
	if err != nil {
		return nil, storeError("ledger.stats", err)
	}
	out := make(map[offer.State]int, len(raw))
	for state, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			continue
		}
		out[offer.State(state)] = n
	}
	publishStats(out)
	return out, nil
}

// Close closes the client.
func (s *ValkeyLedger) Close() error {
	s.client.Close()
	return nil
}
