package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"groupbot/internal/clock"
	"groupbot/internal/storage"
	"groupbot/internal/transport"
)

// call is one recorded transport call.
type call struct {
	Op       string // fetch | mode | text | image
	Group    transport.GroupID
	Mode     transport.GroupMode
	Text     string
	Mentions []transport.MemberID
	At       time.Time
}

type fakeTransport struct {
	mu    sync.Mutex
	clock clockwork.Clock

	groups   map[transport.GroupID]*transport.GroupMetadata
	fetchErr map[transport.GroupID]error
	modeErr  map[transport.GroupID]error
	sendErr  map[transport.GroupID]error
	calls    []call
}

func newFakeTransport(c clockwork.Clock) *fakeTransport {
	if c == nil {
		c = clockwork.NewFakeClock()
	}
	return &fakeTransport{
		clock:    c,
		groups:   map[transport.GroupID]*transport.GroupMetadata{},
		fetchErr: map[transport.GroupID]error{},
		modeErr:  map[transport.GroupID]error{},
		sendErr:  map[transport.GroupID]error{},
	}
}

func (f *fakeTransport) addGroup(id transport.GroupID, mode transport.GroupMode, members ...transport.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[id] = &transport.GroupMetadata{ID: id, Title: string(id), Mode: mode, Members: members}
}

func (f *fakeTransport) record(c call) {
	c.At = f.clock.Now()
	f.calls = append(f.calls, c)
}

func (f *fakeTransport) FetchGroupMetadata(_ context.Context, group transport.GroupID) (transport.GroupMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call{Op: "fetch", Group: group})
	if err := f.fetchErr[group]; err != nil {
		return transport.GroupMetadata{}, err
	}
	g, ok := f.groups[group]
	if !ok {
		return transport.GroupMetadata{}, transport.ErrGroupNotFound
	}
	return *g, nil
}

func (f *fakeTransport) SetGroupMode(_ context.Context, group transport.GroupID, mode transport.GroupMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call{Op: "mode", Group: group, Mode: mode})
	if err := f.modeErr[group]; err != nil {
		return err
	}
	if g, ok := f.groups[group]; ok {
		g.Mode = mode
	}
	return nil
}

func (f *fakeTransport) SendText(_ context.Context, group transport.GroupID, text string, mentions []transport.MemberID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call{Op: "text", Group: group, Text: text, Mentions: mentions})
	return f.sendErr[group]
}

func (f *fakeTransport) SendImage(_ context.Context, group transport.GroupID, _ []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(call{Op: "image", Group: group, Text: caption})
	return f.sendErr[group]
}

// callsFor returns the recorded calls for group, optionally filtered by op.
func (f *fakeTransport) callsFor(group transport.GroupID, ops ...string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Group != group {
			continue
		}
		if len(ops) > 0 && !contains(ops, c.Op) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

type fakeAssets map[string][]byte

func (a fakeAssets) Load(_ context.Context, name string) ([]byte, bool, error) {
	b, ok := a[name]
	if !ok {
		return nil, false, nil
	}
	return b, true, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (m *memAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) all() []storage.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.AuditEntry(nil), m.entries...)
}

var errBoom = errors.New("boom")

func maputoZone(t *testing.T, c clockwork.Clock) clock.Zone {
	t.Helper()
	loc, err := clock.LoadLocation("Africa/Maputo")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	return clock.New(c, loc)
}

func at(t *testing.T, hour, minute int) time.Time {
	t.Helper()
	loc, err := clock.LoadLocation("Africa/Maputo")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	return time.Date(2025, 3, 10, hour, minute, 0, 0, loc)
}
