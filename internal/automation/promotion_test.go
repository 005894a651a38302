package automation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupbot/internal/storage"
	"groupbot/internal/task/engine"
	"groupbot/internal/task/scheduler"
	"groupbot/internal/task/trigger"
	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

var sixThirtyTwo = trigger.Daily(6, 32)

func firing(t *testing.T, name string, hour, minute int) trigger.Firing {
	t.Helper()
	ts := at(t, hour, minute)
	return trigger.Firing{Trigger: name, Seq: 1, At: ts, Woke: ts}
}

func TestPromotionSiblingSurvivesFetchFailure(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.fetchErr["G"] = errBoom
	tr.addGroup("G2", transport.ModeOpen, members...)
	seq := newTestSequencer(t, tr, allAssets(), nil, instantPlan())
	p := NewPromotions(PromotionConfig{Targets: []transport.GroupID{"G", "G2"}}, seq, nil, logx.Nop())

	rep := p.Fire(context.Background(), sixThirtyTwo, firing(t, "promo.1", 6, 32))

	require.Len(t, rep.Groups, 2)
	assert.Error(t, rep.Groups[0].Err)
	assert.NoError(t, rep.Groups[1].Err)
	assert.Error(t, rep.Err())
	assert.Empty(t, tr.callsFor("G", "image", "text"))
	assert.Len(t, tr.callsFor("G2", "image", "text"), 5)
}

func TestPromotionOnlyTabelaScenario(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.addGroup("G1", transport.ModeOpen, members...)
	seq := newTestSequencer(t, tr, fakeAssets{"fotos/tabela.jpg": {1}}, nil, instantPlan())
	p := NewPromotions(PromotionConfig{Targets: []transport.GroupID{"G1"}}, seq, nil, logx.Nop())

	rep := p.Fire(context.Background(), sixThirtyTwo, firing(t, "promo.1", 6, 32))

	require.NoError(t, rep.Err())
	assert.Equal(t, []string{"image", "text", "text"}, ops(tr.callsFor("G1", "image", "text")))
}

func TestPromotionTargetsCapped(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	targets := []transport.GroupID{"g1", "g2", "g3", "g4", "g5", "g6"}
	for _, g := range targets {
		tr.addGroup(g, transport.ModeOpen)
	}
	seq := newTestSequencer(t, tr, fakeAssets{}, nil, instantPlan())
	p := NewPromotions(PromotionConfig{Targets: targets}, seq, nil, logx.Nop())

	require.Len(t, p.Config().Targets, MaxPromotionTargets)
	rep := p.Fire(context.Background(), sixThirtyTwo, firing(t, "promo.1", 6, 32))

	assert.Len(t, rep.Groups, MaxPromotionTargets)
	assert.Empty(t, tr.callsFor("g5"))
	assert.Empty(t, tr.callsFor("g6"))
}

func TestPromotionTargetsRunSequentially(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.addGroup("a", transport.ModeOpen)
	tr.addGroup("b", transport.ModeOpen)
	seq := newTestSequencer(t, tr, fakeAssets{}, nil, instantPlan())
	p := NewPromotions(PromotionConfig{Targets: []transport.GroupID{"a", "b"}}, seq, nil, logx.Nop())

	p.Fire(context.Background(), sixThirtyTwo, firing(t, "promo.1", 6, 32))

	tr.mu.Lock()
	defer tr.mu.Unlock()
	var order []transport.GroupID
	for _, c := range tr.calls {
		order = append(order, c.Group)
	}
	assert.Equal(t, []transport.GroupID{"a", "a", "a", "b", "b", "b"}, order)
}

func TestPromotionDuplicateFiringSkipped(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.addGroup("G1", transport.ModeOpen)
	seq := newTestSequencer(t, tr, fakeAssets{}, nil, instantPlan())
	ledger := NewFiringLedger(nil, clockwork.NewFakeClockAt(at(t, 6, 32)))
	p := NewPromotions(PromotionConfig{Targets: []transport.GroupID{"G1"}}, seq, ledger, logx.Nop())

	ctx := context.Background()
	first := p.Fire(ctx, sixThirtyTwo, firing(t, "promo.1", 6, 32))
	second := p.Fire(ctx, sixThirtyTwo, firing(t, "promo.1", 6, 32))
	other := p.Fire(ctx, trigger.Daily(12, 35), firing(t, "promo.2", 6, 32))

	assert.False(t, first.Duplicate)
	assert.Equal(t, "promo:32 6 * * *:2025-03-10T06:32", first.Key)
	assert.True(t, second.Duplicate)
	assert.Empty(t, second.Groups)
	assert.False(t, other.Duplicate)
	assert.Len(t, tr.callsFor("G1", "fetch"), 2)
}

func TestPromotionSameScheduleUnderTwoNamesFiresOnce(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.addGroup("G1", transport.ModeOpen)
	seq := newTestSequencer(t, tr, fakeAssets{}, nil, instantPlan())
	ledger := NewFiringLedger(nil, clockwork.NewFakeClockAt(at(t, 6, 32)))
	p := NewPromotions(PromotionConfig{Targets: []transport.GroupID{"G1"}}, seq, ledger, logx.Nop())

	ctx := context.Background()
	first := p.Fire(ctx, trigger.MustParse("32 6 * * *"), firing(t, "promo.1", 6, 32))
	again := p.Fire(ctx, trigger.MustParse("32  6 * * *"), firing(t, "promo.2", 6, 32))

	assert.False(t, first.Duplicate)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Key, again.Key)
	assert.Len(t, tr.callsFor("G1", "fetch"), 1)
}

func TestPromotionRepeatedTriggersDropped(t *testing.T) {
	t.Parallel()
	seq := newTestSequencer(t, newFakeTransport(nil), fakeAssets{}, nil, instantPlan())
	specs, err := ParseTriggers([]string{"32 6 * * *", "35 12 * * *", "32 6 * * *"})
	require.NoError(t, err)

	p := NewPromotions(PromotionConfig{Triggers: specs}, seq, nil, logx.Nop())

	got := p.Config().Triggers
	require.Len(t, got, 2)
	assert.Equal(t, "32 6 * * *", got[0].String())
	assert.Equal(t, "35 12 * * *", got[1].String())
}

func TestFiringLedgerPersistsAcrossInstances(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fc := clockwork.NewFakeClock()
	ctx := context.Background()

	ok, err := NewFiringLedger(st, fc).Claim(ctx, "promo:x", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	restarted := NewFiringLedger(st, fc)
	ok, err = restarted.Claim(ctx, "promo:x", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	fc.Advance(2 * time.Hour)
	ok, err = restarted.Claim(ctx, "promo:x", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "claim should free up after ttl")
}

func TestParseTriggers(t *testing.T) {
	t.Parallel()
	specs, err := ParseTriggers(DefaultPromotionTriggers)
	require.NoError(t, err)
	assert.Len(t, specs, len(DefaultPromotionTriggers))

	specs, err = ParseTriggers([]string{"32 6 * * *", "not a cron"})
	assert.Error(t, err)
	assert.Len(t, specs, 1)
}

func TestPromotionRegisterReplacesTriggers(t *testing.T) {
	t.Parallel()
	eng := engine.New(engine.Config{Enabled: true}, logx.Nop(), nil)
	svc := scheduler.New(scheduler.Config{Enabled: true}, maputoZone(t, clockwork.NewFakeClock()), eng, logx.Nop())
	p := NewPromotions(PromotionConfig{Triggers: []trigger.Spec{
		trigger.MustParse("32 6 * * *"),
		trigger.MustParse("35 12 * * *"),
	}}, nil, nil, logx.Nop())

	require.NoError(t, p.Register(svc, time.Minute))
	require.NoError(t, svc.Add(DailyPollSchedule, trigger.MustParse("60s"), 0, func(context.Context, trigger.Firing) error { return nil }))

	p.Update(PromotionConfig{Triggers: []trigger.Spec{trigger.MustParse("20 22 * * *")}})
	require.NoError(t, p.Register(svc, time.Minute))

	var names []string
	for _, s := range svc.Snapshot().Schedules {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{DailyPollSchedule, "promo.1"}, names)
}
