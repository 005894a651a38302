package automation

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupbot/internal/eventbus"
	"groupbot/internal/transport"
)

var members = []transport.Member{
	{ID: "1", Name: "ana", IsAdmin: true},
	{ID: "2", Name: "bruno"},
	{ID: "3", Name: "carla"},
}

func instantPlan() Plan {
	p := DefaultPlan()
	p.ImageDelay = 0
	p.PaymentDelay = 0
	return p
}

func allAssets() fakeAssets {
	return fakeAssets{"fotos/tabela.jpg": {1}, "fotos/ilimitado.png": {2}, "fotos/Netflix.jpeg": {3}}
}

func newTestSequencer(t *testing.T, tr transport.Transport, assets AssetStore, fc clockwork.Clock, plan Plan) *Sequencer {
	t.Helper()
	return NewSequencer(SequencerDeps{Transport: tr, Assets: assets, Zone: maputoZone(t, fc)}, plan)
}

func ops(cs []call) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Op
	}
	return out
}

func TestSequencerFullPlanOrder(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.addGroup("G", transport.ModeOpen, members...)

	rep := newTestSequencer(t, tr, allAssets(), nil, instantPlan()).Run(context.Background(), "G", "promo.1")

	require.NoError(t, rep.Err)
	assert.Equal(t, 5, rep.Sends)
	assert.Zero(t, rep.Skipped)
	assert.Equal(t, []string{"fetch", "image", "image", "image", "text", "text"}, ops(tr.callsFor("G")))

	sends := tr.callsFor("G", "text")
	assert.Nil(t, sends[0].Mentions)
	assert.Equal(t, []transport.MemberID{"1", "2", "3"}, sends[1].Mentions)
	assert.Contains(t, sends[1].Text, "@todos")
}

func TestSequencerSkipsAbsentAssets(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.addGroup("G", transport.ModeOpen, members...)
	assets := fakeAssets{"fotos/ilimitado.png": {2}}

	rep := newTestSequencer(t, tr, assets, nil, instantPlan()).Run(context.Background(), "G", "promo.1")

	require.NoError(t, rep.Err)
	assert.Equal(t, 3, rep.Sends)
	assert.Equal(t, 2, rep.Skipped)
	sends := tr.callsFor("G", "image", "text")
	require.Equal(t, []string{"image", "text", "text"}, ops(sends))
	assert.Equal(t, DefaultPlan().Images[1].Caption, sends[0].Text)
	assert.Equal(t, DefaultPlan().PaymentText, sends[1].Text)
	assert.Equal(t, DefaultPlan().LinkText, sends[2].Text)
}

func TestSequencerObservesDelays(t *testing.T) {
	t.Parallel()
	start := at(t, 6, 32)
	fc := clockwork.NewFakeClockAt(start)
	tr := newFakeTransport(fc)
	tr.addGroup("G1", transport.ModeOpen, members...)
	seq := newTestSequencer(t, tr, fakeAssets{"fotos/tabela.jpg": {1}}, fc, DefaultPlan())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	done := make(chan BroadcastReport, 1)
	go func() { done <- seq.Run(ctx, "G1", "promo.1") }()

	for _, d := range []time.Duration{DefaultImageDelay, DefaultPaymentDelay} {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		fc.Advance(d)
	}

	var rep BroadcastReport
	select {
	case rep = <-done:
	case <-ctx.Done():
		t.Fatal("sequence did not finish")
	}
	require.NoError(t, rep.Err)
	assert.Equal(t, 3, rep.Sends)
	assert.Equal(t, DefaultImageDelay+DefaultPaymentDelay, rep.Duration)

	sends := tr.callsFor("G1", "image", "text")
	require.Len(t, sends, 3)
	assert.Equal(t, "image", sends[0].Op)
	assert.True(t, sends[0].At.Equal(start))
	assert.True(t, sends[1].At.Equal(start.Add(DefaultImageDelay)), "payment at %v", sends[1].At)
	assert.True(t, sends[2].At.Equal(start.Add(DefaultImageDelay+DefaultPaymentDelay)), "link at %v", sends[2].At)
}

func TestSequencerFetchFailureSendsNothing(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.fetchErr["G"] = errBoom

	rep := newTestSequencer(t, tr, allAssets(), nil, instantPlan()).Run(context.Background(), "G", "promo.1")

	var se *StepError
	require.ErrorAs(t, rep.Err, &se)
	assert.Equal(t, FailureFetch, se.Kind)
	assert.Equal(t, "metadata", se.Step)
	assert.ErrorIs(t, rep.Err, errBoom)
	assert.Empty(t, tr.callsFor("G", "image", "text"))
}

func TestSequencerSendFailureStopsGroup(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.addGroup("G", transport.ModeOpen, members...)
	tr.sendErr["G"] = errBoom

	rep := newTestSequencer(t, tr, allAssets(), nil, instantPlan()).Run(context.Background(), "G", "promo.1")

	var se *StepError
	require.ErrorAs(t, rep.Err, &se)
	assert.Equal(t, FailureSend, se.Kind)
	assert.Equal(t, "image[0]", se.Step)
	assert.Len(t, tr.callsFor("G", "image", "text"), 1)
}

func TestSequencerCapsImageSteps(t *testing.T) {
	t.Parallel()
	tr := newFakeTransport(nil)
	tr.addGroup("G", transport.ModeOpen)
	plan := instantPlan()
	plan.Images = append(plan.Images, ImageStep{Asset: "extra.jpg", Caption: "extra"})
	assets := allAssets()
	assets["extra.jpg"] = []byte{4}

	rep := newTestSequencer(t, tr, assets, nil, plan).Run(context.Background(), "G", "promo.1")

	require.NoError(t, rep.Err)
	assert.Len(t, tr.callsFor("G", "image"), MaxImageSteps)
}

func TestSequencerCanceledDuringDelay(t *testing.T) {
	t.Parallel()
	fc := clockwork.NewFakeClock()
	tr := newFakeTransport(fc)
	tr.addGroup("G", transport.ModeOpen)
	seq := newTestSequencer(t, tr, allAssets(), fc, DefaultPlan())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan BroadcastReport, 1)
	go func() { done <- seq.Run(ctx, "G", "promo.1") }()

	wait, stop := context.WithTimeout(context.Background(), 3*time.Second)
	defer stop()
	require.NoError(t, fc.BlockUntilContext(wait, 1))
	cancel()

	rep := <-done
	var se *StepError
	require.ErrorAs(t, rep.Err, &se)
	assert.Equal(t, FailureCanceled, se.Kind)
	assert.Len(t, tr.callsFor("G", "image", "text"), 1)
}

func TestSequencerPublishesBroadcastEvent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()
	tr := newFakeTransport(nil)
	tr.addGroup("G", transport.ModeOpen)
	seq := NewSequencer(SequencerDeps{Transport: tr, Assets: fakeAssets{}, Zone: maputoZone(t, nil), Bus: bus}, instantPlan())

	seq.Run(context.Background(), "G", "promo.3")

	var sends int
	for ev := range ch {
		if ev.Type == eventbus.TypeSend {
			sends++
			continue
		}
		require.Equal(t, eventbus.TypeBroadcast, ev.Type)
		be := ev.Data.(BroadcastEvent)
		assert.Equal(t, "promo.3", be.Trigger)
		assert.Equal(t, 2, be.Sends)
		assert.Equal(t, 3, be.Skipped)
		break
	}
	assert.Equal(t, 2, sends)
}
