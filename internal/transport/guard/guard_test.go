package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"groupbot/internal/transport"
)

type slowTransport struct{}

func (slowTransport) FetchGroupMetadata(ctx context.Context, g transport.GroupID) (transport.GroupMetadata, error) {
	<-ctx.Done()
	return transport.GroupMetadata{}, ctx.Err()
}

func (slowTransport) SetGroupMode(ctx context.Context, g transport.GroupID, m transport.GroupMode) error {
	<-ctx.Done()
	return ctx.Err()
}

func (slowTransport) SendText(ctx context.Context, g transport.GroupID, text string, m []transport.MemberID) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("no deadline")
	}
	return nil
}

func (slowTransport) SendImage(ctx context.Context, g transport.GroupID, b []byte, c string) error {
	return nil
}

func TestCallsAreBounded(t *testing.T) {
	t.Parallel()
	g := New(slowTransport{}, Config{CallTimeout: 10 * time.Millisecond})

	start := time.Now()
	_, err := g.FetchGroupMetadata(context.Background(), "g1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("fetch err=%v", err)
	}
	if err := g.SetGroupMode(context.Background(), "g1", transport.ModeOpen); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("set err=%v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not applied")
	}
	if err := g.SendText(context.Background(), "g1", "hi", nil); err != nil {
		t.Fatalf("send should carry a deadline: %v", err)
	}
}

func TestSendPacingHonoursContext(t *testing.T) {
	t.Parallel()
	g := New(slowTransport{}, Config{CallTimeout: 20 * time.Millisecond, SendRatePerSec: 0.001, SendBurst: 1})
	if err := g.SendImage(context.Background(), "g1", nil, ""); err != nil {
		t.Fatalf("first send within burst: %v", err)
	}
	if err := g.SendImage(context.Background(), "g1", nil, ""); err == nil {
		t.Fatalf("second send should fail waiting for a token past the deadline")
	}
}
