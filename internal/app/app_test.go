package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupbot/internal/config"
	"groupbot/internal/transport"
)

type fakeAdapter struct {
	mu     sync.Mutex
	groups map[transport.GroupID]transport.GroupMetadata
	modes  []transport.GroupMode
	texts  []string
	out    chan<- transport.Update
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{groups: map[transport.GroupID]transport.GroupMetadata{
		"-100": {ID: "-100", Title: "Vendas", Mode: transport.ModeOpen, Members: []transport.Member{
			{ID: "1", Name: "Ana", IsAdmin: true},
			{ID: "2", Name: "Rui"},
		}},
	}}
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- transport.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) push(u transport.Update) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- u
}

func (f *fakeAdapter) FetchGroupMetadata(_ context.Context, g transport.GroupID) (transport.GroupMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.groups[g]
	if !ok {
		return transport.GroupMetadata{}, transport.ErrGroupNotFound
	}
	return m, nil
}

func (f *fakeAdapter) SetGroupMode(_ context.Context, g transport.GroupID, mode transport.GroupMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.groups[g]
	m.Mode = mode
	f.groups[g] = m
	f.modes = append(f.modes, mode)
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, _ transport.GroupID, text string, _ []transport.MemberID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeAdapter) SendImage(context.Context, transport.GroupID, []byte, string) error { return nil }

func (f *fakeAdapter) snapshot() ([]transport.GroupMode, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.modes), slices.Clone(f.texts)
}

const testConfig = `{
  "telegram": {"token": "test-token", "poll_timeout": "1s"},
  "logging": {"level": "error", "console": false},
  "scheduler": {"workers": 1},
  "automation": {
    "timezone": "Africa/Maputo",
    "groups": {"managed": ["-100"], "close": "06:30", "open": "22:30"},
    "manual": {"enabled": %s},
    "promotions": {"triggers": [], "targets": ["-100"]}
  }
}`

func writeConfig(t *testing.T, path, manual string) {
	t.Helper()
	body := []byte(fmt.Sprintf(testConfig, manual))
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, body, 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func startApp(t *testing.T) (*App, *fakeAdapter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, "true")

	ad := newFakeAdapter()
	noon := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // 12:00 in Maputo
	a, err := New(config.NewManager(path), Options{Adapter: ad, Clock: clockwork.NewFakeClockAt(noon)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopSignal)
		cancel()
	})
	return a, ad, path
}

func TestManualCommandClosesGroup(t *testing.T) {
	a, ad, _ := startApp(t)

	ad.push(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ID: 1, Group: "-100", IsGroup: true, From: "1", FromName: "Ana", Text: "/grupo off",
	}})

	require.Eventually(t, func() bool {
		modes, _ := ad.snapshot()
		return len(modes) == 1
	}, 3*time.Second, 10*time.Millisecond)

	modes, texts := ad.snapshot()
	assert.Equal(t, []transport.GroupMode{transport.ModeRestricted}, modes)
	assert.NotEmpty(t, texts)
	assert.Eventually(t, func() bool { return a.Status().Handled >= 1 }, time.Second, 10*time.Millisecond)
}

func TestManualCommandIgnoredFromMember(t *testing.T) {
	_, ad, _ := startApp(t)

	ad.push(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ID: 2, Group: "-100", IsGroup: true, From: "2", FromName: "Rui", Text: "/grupo off",
	}})

	require.Eventually(t, func() bool {
		_, texts := ad.snapshot()
		return len(texts) == 1
	}, 3*time.Second, 10*time.Millisecond)
	modes, _ := ad.snapshot()
	assert.Empty(t, modes)
}

func TestReloadDisablesManualCommand(t *testing.T) {
	a, _, path := startApp(t)
	require.True(t, a.manual.Load())

	writeConfig(t, path, "false")
	require.Eventually(t, func() bool { return !a.manual.Load() }, 5*time.Second, 20*time.Millisecond)
}

func TestStatusListsSchedules(t *testing.T) {
	a, _, _ := startApp(t)

	st := a.Status()
	assert.Equal(t, "Africa/Maputo", st.Timezone)
	names := make([]string, 0, len(st.Scheduler.Schedules))
	for _, s := range st.Scheduler.Schedules {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "daily.poll")
	assert.Contains(t, st.Supervisors, "app")
}

func TestLogSenderForwardsToTransport(t *testing.T) {
	t.Parallel()
	fa := newFakeAdapter()

	require.NoError(t, logSender{fa}.SendText(context.Background(), "-100", "[WARN] send failed"))

	_, texts := fa.snapshot()
	assert.Equal(t, []string{"[WARN] send failed"}, texts)
}
