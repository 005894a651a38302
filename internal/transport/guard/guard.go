// Package guard bounds every transport call with a timeout and paces outbound sends.
package guard

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"groupbot/internal/transport"
)

const DefaultCallTimeout = 30 * time.Second

type Config struct {
	CallTimeout    time.Duration
	SendRatePerSec float64 // 0 disables pacing
	SendBurst      int
}

// Transport wraps another transport.Transport.
type Transport struct {
	next    transport.Transport
	timeout time.Duration
	limiter *rate.Limiter
}

func New(next transport.Transport, cfg Config) *Transport {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	g := &Transport{next: next, timeout: cfg.CallTimeout}
	if cfg.SendRatePerSec > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), max(cfg.SendBurst, 1))
	}
	return g
}

func (g *Transport) FetchGroupMetadata(ctx context.Context, group transport.GroupID) (transport.GroupMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.FetchGroupMetadata(ctx, group)
}

func (g *Transport) SetGroupMode(ctx context.Context, group transport.GroupID, mode transport.GroupMode) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.SetGroupMode(ctx, group, mode)
}

func (g *Transport) SendText(ctx context.Context, group transport.GroupID, text string, mentions []transport.MemberID) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.wait(ctx); err != nil {
		return err
	}
	return g.next.SendText(ctx, group, text, mentions)
}

func (g *Transport) SendImage(ctx context.Context, group transport.GroupID, image []byte, caption string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.wait(ctx); err != nil {
		return err
	}
	return g.next.SendImage(ctx, group, image, caption)
}

func (g *Transport) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send pacing: %w", err)
	}
	return nil
}
