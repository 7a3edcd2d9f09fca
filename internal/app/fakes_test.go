package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/slack-go/slack"

	"github.com/Dan-Hightower/hirebot/internal/adapters/chat"
	"github.com/Dan-Hightower/hirebot/internal/adapters/deel"
	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
)

type fakeParser struct {
	rec offer.Record
	err error
}

func (p *fakeParser) Parse(context.Context, string) (offer.Record, error) {
	if p.err != nil {
		return offer.Record{}, p.err
	}
	return p.rec, nil
}

type fakeRecords struct {
	mu        sync.Mutex
	rows      map[int]offer.Record
	next      int
	appends   int
	updates   int
	appendErr error
	updateErr error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{rows: map[int]offer.Record{}, next: 2}
}

func (r *fakeRecords) Append(_ context.Context, rec offer.Record) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return 0, r.appendErr
	}
	r.appends++
	row := r.next
	r.next++
	r.rows[row] = rec.Clone()
	return row, nil
}

func (r *fakeRecords) FindLastRowByHandle(_ context.Context, handle string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	best := 0
	for row, rec := range r.rows {
		if rec.Handle == handle && row > best {
			best = row
		}
	}
	if best == 0 {
		return 0, failure.NewKind("fake.find", failure.ErrNotFound)
	}
	return best, nil
}

func (r *fakeRecords) UpdateRow(_ context.Context, row int, rec offer.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates++
	r.rows[row] = rec.Clone()
	return nil
}

func (r *fakeRecords) counts() (appends, updates int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appends, r.updates
}

func (r *fakeRecords) row(n int) offer.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[n]
}

// fakeProvisioner rejects a second candidate with the same id, like Deel.
type fakeProvisioner struct {
	mu        sync.Mutex
	calls     []deel.Candidate
	err       error
	statusErr error
	created   map[string]bool
}

func (p *fakeProvisioner) CreateCandidate(_ context.Context, offerID string, cand deel.Candidate) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, cand)
	if p.err != nil {
		return "", p.err
	}
	id := deel.CandidateID(offerID)
	if p.created[id] {
		return "", failure.Newf("deel.create_candidate", failure.ErrPermanent, "candidate %s already exists", id)
	}
	if p.created == nil {
		p.created = map[string]bool{}
	}
	p.created[id] = true
	return id, nil
}

func (p *fakeProvisioner) CandidateStatus(_ context.Context, id string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statusErr != nil {
		return "", p.statusErr
	}
	if !p.created[id] {
		return "", failure.Newf("deel.candidate_status", failure.ErrNotFound, "no candidate %s", id)
	}
	return "offer-accepted", nil
}

func (p *fakeProvisioner) markCreated(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.created == nil {
		p.created = map[string]bool{}
	}
	p.created[id] = true
}

func (p *fakeProvisioner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type posted struct {
	channel string
	msg     chat.Message
}

type responded struct {
	url       string
	msg       chat.Message
	replace   bool
	inChannel bool
}

type fakeMessenger struct {
	mu        sync.Mutex
	members   map[string]string // handle -> user ID
	posts     []posted
	updates   []posted
	responses []responded
	dms       []string
	postErr   map[string]error // channel -> error
	dmErr     error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		members: map[string]string{"<@U123>": "U123", "@dan": "U777"},
		postErr: map[string]error{},
	}
}

func (m *fakeMessenger) PostMessage(_ context.Context, channel string, msg chat.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.postErr[channel]; err != nil {
		return "", err
	}
	m.posts = append(m.posts, posted{channel: channel, msg: msg})
	return "1700000000.000100", nil
}

func (m *fakeMessenger) UpdateMessage(_ context.Context, channel, _ string, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, posted{channel: channel, msg: msg})
	return nil
}

func (m *fakeMessenger) OpenDirectChannel(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dmErr != nil {
		return "", m.dmErr
	}
	m.dms = append(m.dms, userID)
	return "D" + strings.TrimPrefix(userID, "U"), nil
}

func (m *fakeMessenger) ResolveHandle(_ context.Context, handle string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.members[handle]; ok {
		return id, nil
	}
	return "", failure.Newf("fake.resolve", failure.ErrNotFound, "no member matches %q", handle)
}

func (m *fakeMessenger) Respond(_ context.Context, url string, msg chat.Message, replace, inChannel bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responded{url: url, msg: msg, replace: replace, inChannel: inChannel})
	return nil
}

func (m *fakeMessenger) postsTo(channel string) []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chat.Message
	for _, p := range m.posts {
		if p.channel == channel {
			out = append(out, p.msg)
		}
	}
	return out
}

func (m *fakeMessenger) allResponses() []responded {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]responded(nil), m.responses...)
}

func (m *fakeMessenger) allUpdates() []posted {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]posted(nil), m.updates...)
}

// buttonValue returns the value of the button with actionID in msg.
func buttonValue(msg chat.Message, actionID string) string {
	for _, b := range msg.Blocks {
		ab, ok := b.(*slack.ActionBlock)
		if !ok || ab.Elements == nil {
			continue
		}
		for _, el := range ab.Elements.ElementSet {
			if btn, ok := el.(*slack.ButtonBlockElement); ok && btn.ActionID == actionID {
				return btn.Value
			}
		}
	}
	return ""
}

var errSheetDown = failure.WrapKind("fake.append", failure.ErrTransient, errors.New("sheet unavailable"))
