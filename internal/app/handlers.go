package app

import (
	"context"

	"groupbot/internal/dispatch"
	"groupbot/internal/storage"
	logx "groupbot/pkg/logx"
)

// recordMember keeps the member directory fresh: the platform only lists
// administrators, so broadcasts mention whoever has been seen in the group.
func (a *App) recordMember(ctx context.Context, req *dispatch.Request) error {
	m := req.Update.Message
	if a.store == nil || m == nil || !m.IsGroup || m.From == "" {
		return nil
	}
	return a.store.RecordMember(ctx, storage.MemberRecord{
		Group:    m.Group.String(),
		MemberID: string(m.From),
		Name:     m.FromName,
		LastSeen: a.clock.Now(),
	})
}

// handleCommand routes text messages through the manual group command.
func (a *App) handleCommand(ctx context.Context, req *dispatch.Request) error {
	m := req.Update.Message
	if m == nil || m.Text == "" || !a.manual.Load() {
		return nil
	}
	d, handled := a.gate.Handle(ctx, *m)
	if handled {
		req.Logger.Info("group command handled",
			logx.Stringer("group", m.Group),
			logx.String("from", string(m.From)),
			logx.String("decision", string(d)),
		)
	}
	return nil
}
