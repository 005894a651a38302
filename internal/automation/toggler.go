package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"groupbot/internal/eventbus"
	"groupbot/internal/storage"
	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

// ToggleResult classifies how one Apply call ended for its group.
type ToggleResult int

const (
	// ToggleApplied: the mode changed (the notice may still have failed, see Outcome.NoticeErr).
	ToggleApplied ToggleResult = iota
	// ToggleUnchanged: the group was already in the desired mode.
	ToggleUnchanged
	// ToggleFetchFailed: the group's metadata could not be read, so nothing was changed.
	ToggleFetchFailed
	// ToggleChangeFailed: the metadata was read but setting the mode failed.
	ToggleChangeFailed
)

func (r ToggleResult) String() string {
	switch r {
	case ToggleApplied:
		return "applied"
	case ToggleUnchanged:
		return "unchanged"
	case ToggleFetchFailed:
		return "fetch_failed"
	case ToggleChangeFailed:
		return "change_failed"
	default:
		return fmt.Sprintf("ToggleResult(%d)", int(r))
	}
}

// Outcome reports one Toggler call.
type Outcome struct {
	Group     transport.GroupID
	Desired   transport.GroupMode
	Result    ToggleResult
	Err       error // fetch or state-change failure
	NoticeErr error // notice send failure after a successful change
}

func (o Outcome) Failure() FailureKind {
	switch o.Result {
	case ToggleFetchFailed:
		return FailureFetch
	case ToggleChangeFailed:
		return FailureStateChange
	}
	if o.NoticeErr != nil {
		return FailureSend
	}
	return FailureNone
}

// ApplyOption adjusts one Apply call.
type ApplyOption func(*applyOpts)

type applyOpts struct {
	source string
	actor  transport.MemberID
	notice *string
}

// WithSource labels the call in logs, events and audit ("daily", "manual").
func WithSource(src string) ApplyOption { return func(o *applyOpts) { o.source = src } }

// WithActor records who asked for the change.
func WithActor(id transport.MemberID) ApplyOption { return func(o *applyOpts) { o.actor = id } }

// WithNotice replaces the notice text sent after a change. Empty disables it.
func WithNotice(text string) ApplyOption { return func(o *applyOpts) { o.notice = &text } }

// TogglerDeps are the collaborators of a Toggler. Bus and Audit may be nil.
type TogglerDeps struct {
	Transport transport.Transport
	Log       logx.Logger
	Bus       eventbus.Bus
	Audit     Auditor
}

// Toggler moves a group between restricted and open mode.
type Toggler struct {
	tr    transport.Transport
	log   logx.Logger
	bus   eventbus.Bus
	audit Auditor

	mu      sync.RWMutex
	notices Notices
}

// NewToggler builds a Toggler that announces changes with notices. A zero
// Log discards records.
func NewToggler(deps TogglerDeps, notices Notices) *Toggler {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Toggler{
		tr:      deps.Transport,
		log:     log.With(logx.String("comp", "toggler")),
		bus:     deps.Bus,
		audit:   deps.Audit,
		notices: notices,
	}
}

func (t *Toggler) SetNotices(n Notices) {
	t.mu.Lock()
	t.notices = n
	t.mu.Unlock()
}

func (t *Toggler) Notices() Notices {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.notices
}

// Apply fetches the group's mode and changes it to desired when they differ.
// A change is followed by exactly one notice. Failures are returned in the
// Outcome, never as a panic or a skipped caller loop.
func (t *Toggler) Apply(ctx context.Context, group transport.GroupID, desired transport.GroupMode, opts ...ApplyOption) Outcome {
	o := t.options(opts)
	meta, err := t.tr.FetchGroupMetadata(ctx, group)
	if err != nil {
		out := Outcome{Group: group, Desired: desired, Result: ToggleFetchFailed, Err: fmt.Errorf("fetch metadata: %w", err)}
		t.finish(ctx, o, out, 0)
		return out
	}
	return t.apply(ctx, meta, desired, o)
}

// ApplyFetched is Apply for a caller that already holds fresh metadata.
func (t *Toggler) ApplyFetched(ctx context.Context, meta transport.GroupMetadata, desired transport.GroupMode, opts ...ApplyOption) Outcome {
	return t.apply(ctx, meta, desired, t.options(opts))
}

func (t *Toggler) options(opts []ApplyOption) applyOpts {
	o := applyOpts{source: "daily"}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (t *Toggler) apply(ctx context.Context, meta transport.GroupMetadata, desired transport.GroupMode, o applyOpts) Outcome {
	start := time.Now()
	out := Outcome{Group: meta.ID, Desired: desired}
	if !desired.Valid() {
		out.Result = ToggleChangeFailed
		out.Err = fmt.Errorf("invalid mode %q", desired)
		t.finish(ctx, o, out, 0)
		return out
	}

	if meta.Mode == desired {
		out.Result = ToggleUnchanged
		t.finish(ctx, o, out, time.Since(start))
		return out
	}

	if err := t.tr.SetGroupMode(ctx, meta.ID, desired); err != nil {
		out.Result = ToggleChangeFailed
		out.Err = fmt.Errorf("set mode %s: %w", desired, err)
		t.finish(ctx, o, out, time.Since(start))
		return out
	}
	out.Result = ToggleApplied

	text := t.Notices().For(desired)
	if o.notice != nil {
		text = *o.notice
	}
	if text != "" {
		err := t.tr.SendText(ctx, meta.ID, text, nil)
		publishSend(t.bus, meta.ID, "text", err)
		if err != nil {
			out.NoticeErr = fmt.Errorf("send notice: %w", err)
		}
	}
	t.finish(ctx, o, out, time.Since(start))
	return out
}

func (t *Toggler) finish(ctx context.Context, o applyOpts, out Outcome, took time.Duration) {
	log := t.log.With(
		logx.Stringer("group", out.Group),
		logx.String("desired", string(out.Desired)),
		logx.String("source", o.source),
	)
	switch out.Result {
	case ToggleApplied:
		if out.NoticeErr != nil {
			log.Warn("group mode changed; notice failed", logx.Err(out.NoticeErr))
		} else {
			log.Info("group mode changed")
		}
	case ToggleUnchanged:
		log.Info("group already in desired mode")
	default:
		log.Warn("group mode change failed", logx.String("failure", string(out.Failure())), logx.Err(out.Err))
	}

	ev := ToggleEvent{
		Group:   out.Group,
		Desired: out.Desired,
		Source:  o.source,
		Result:  out.Result.String(),
		Failure: out.Failure(),
	}
	if err := errors.Join(out.Err, out.NoticeErr); err != nil {
		ev.Error = err.Error()
	}
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: eventbus.TypeToggle, Data: ev})
	}

	if t.audit != nil && out.Result != ToggleUnchanged {
		entry := storage.AuditEntry{
			Group:   out.Group.String(),
			Source:  o.source,
			Action:  actionFor(out.Desired),
			ActorID: string(o.actor),
			OK:      out.Result == ToggleApplied,
			Error:   ev.Error,
			TookMS:  took.Milliseconds(),
		}
		if err := t.audit.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
			log.Debug("audit append failed", logx.Err(err))
		}
	}
}

func actionFor(mode transport.GroupMode) string {
	if mode == transport.ModeOpen {
		return "open"
	}
	return "restrict"
}

func publishSend(bus eventbus.Bus, group transport.GroupID, kind string, err error) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: eventbus.TypeSend, Data: SendEvent{Group: group, Kind: kind, OK: err == nil}})
}
