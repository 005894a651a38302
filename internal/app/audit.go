package app

import (
	"context"
	"slices"
	"time"

	logx "groupbot/pkg/logx"
)

// auditGroups fetches every managed and promotion group once so a
// misconfigured id or a missing admin right shows up in the log at boot.
func (a *App) auditGroups(ctx context.Context) {
	groups := slices.Concat(a.daily.Config().Groups, a.promos.Config().Targets)
	slices.Sort(groups)
	groups = slices.Compact(groups)

	reachable := 0
	for _, g := range groups {
		if ctx.Err() != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		meta, err := a.tr.FetchGroupMetadata(cctx, g)
		cancel()
		if err != nil {
			a.log.Warn("group unreachable", logx.Stringer("group", g), logx.Err(err))
			continue
		}
		reachable++
		a.log.Info("group ready",
			logx.Stringer("group", g),
			logx.String("title", meta.Title),
			logx.String("mode", string(meta.Mode)),
			logx.Int("members_known", len(meta.Members)),
			logx.Bool("managed", slices.Contains(a.daily.Config().Groups, g)),
			logx.Bool("promotion_target", slices.Contains(a.promos.Config().Targets, g)),
		)
	}
	a.log.Info("group audit done", logx.Int("groups", len(groups)), logx.Int("reachable", reachable))
}
