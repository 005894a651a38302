package automation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupbot/internal/eventbus"
	"groupbot/internal/transport"
)

func newTestToggler(tr transport.Transport, bus eventbus.Bus, audit Auditor) *Toggler {
	return NewToggler(TogglerDeps{Transport: tr, Bus: bus, Audit: audit}, DefaultNotices())
}

func TestTogglerAlreadyInDesiredMode(t *testing.T) {
	t.Parallel()
	for _, mode := range []transport.GroupMode{transport.ModeRestricted, transport.ModeOpen} {
		tr := newFakeTransport(nil)
		tr.addGroup("g", mode)
		audit := &memAudit{}

		out := newTestToggler(tr, nil, audit).Apply(context.Background(), "g", mode)

		assert.Equal(t, ToggleUnchanged, out.Result, mode)
		assert.Empty(t, tr.callsFor("g", "mode", "text", "image"), "no change or notice expected for %s", mode)
		assert.Empty(t, audit.all())
	}
}

func TestTogglerChangesAndNotifiesOnce(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.addGroup("g", transport.ModeOpen)
	audit := &memAudit{}

	out := newTestToggler(tr, nil, audit).Apply(context.Background(), "g", transport.ModeRestricted)

	require.Equal(t, ToggleApplied, out.Result)
	require.NoError(t, out.Err)
	modes := tr.callsFor("g", "mode")
	require.Len(t, modes, 1)
	assert.Equal(t, transport.ModeRestricted, modes[0].Mode)

	texts := tr.callsFor("g", "text")
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0].Text, DefaultContactNumber)
	assert.NotContains(t, texts[0].Text, ContactPlaceholder)

	entries := audit.all()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].OK)
	assert.Equal(t, "restrict", entries[0].Action)
}

func TestTogglerOpenNoticeHasNoContact(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.addGroup("g", transport.ModeRestricted)

	out := newTestToggler(tr, nil, nil).Apply(context.Background(), "g", transport.ModeOpen)

	require.Equal(t, ToggleApplied, out.Result)
	texts := tr.callsFor("g", "text")
	require.Len(t, texts, 1)
	assert.Equal(t, DefaultOpenNotice, texts[0].Text)
}

func TestTogglerStateChangeFailureSendsNothing(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.addGroup("g", transport.ModeOpen)
	tr.modeErr["g"] = transport.ErrNotPermitted
	audit := &memAudit{}

	out := newTestToggler(tr, nil, audit).Apply(context.Background(), "g", transport.ModeRestricted)

	assert.Equal(t, ToggleChangeFailed, out.Result)
	assert.Equal(t, FailureStateChange, out.Failure())
	assert.ErrorIs(t, out.Err, transport.ErrNotPermitted)
	assert.Len(t, tr.callsFor("g", "mode"), 1)
	assert.Empty(t, tr.callsFor("g", "text"))

	entries := audit.all()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].OK)
	assert.NotEmpty(t, entries[0].Error)
}

func TestTogglerFetchFailure(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.fetchErr["g"] = errBoom

	out := newTestToggler(tr, nil, nil).Apply(context.Background(), "g", transport.ModeOpen)

	assert.Equal(t, ToggleFetchFailed, out.Result)
	assert.Equal(t, FailureFetch, out.Failure())
	assert.Empty(t, tr.callsFor("g", "mode", "text"))
}

func TestTogglerNoticeFailureKeepsChange(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.addGroup("g", transport.ModeOpen)
	tr.sendErr["g"] = errBoom

	out := newTestToggler(tr, nil, nil).Apply(context.Background(), "g", transport.ModeRestricted)

	assert.Equal(t, ToggleApplied, out.Result)
	assert.NoError(t, out.Err)
	assert.ErrorIs(t, out.NoticeErr, errBoom)
	assert.Equal(t, FailureSend, out.Failure())
}

func TestTogglerPublishesEvent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	tr := newFakeTransport(nil)
	tr.addGroup("g", transport.ModeOpen)
	newTestToggler(tr, bus, nil).Apply(context.Background(), "g", transport.ModeRestricted, WithSource("manual"))

	var ev eventbus.Event
	for ev = range ch {
		if ev.Type == eventbus.TypeToggle {
			break
		}
		require.Equal(t, eventbus.TypeSend, ev.Type)
	}
	te, ok := ev.Data.(ToggleEvent)
	require.True(t, ok)
	assert.Equal(t, "manual", te.Source)
	assert.Equal(t, "applied", te.Result)
}

func TestTogglerWithNoticeOverride(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.addGroup("g", transport.ModeOpen)

	newTestToggler(tr, nil, nil).Apply(context.Background(), "g", transport.ModeRestricted, WithNotice(""))
	assert.Empty(t, tr.callsFor("g", "text"))

	tr.addGroup("h", transport.ModeRestricted)
	newTestToggler(tr, nil, nil).Apply(context.Background(), "h", transport.ModeOpen, WithNotice("custom"))
	texts := tr.callsFor("h", "text")
	require.Len(t, texts, 1)
	assert.Equal(t, "custom", texts[0].Text)
}

func TestNoticesFillContact(t *testing.T) {
	t.Parallel()
	n := Notices{Restricted: "closed, call " + ContactPlaceholder, Open: "open", Contact: "123"}
	assert.Equal(t, "closed, call 123", n.For(transport.ModeRestricted))
	assert.Equal(t, "open", n.For(transport.ModeOpen))
	assert.True(t, strings.HasPrefix(DefaultNotices().For(transport.ModeRestricted), "🌙"))
}
