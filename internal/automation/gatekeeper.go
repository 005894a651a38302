package automation

import (
	"context"
	"strings"
	"sync"

	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

// Decision is the outcome of one manual group command.
type Decision string

const (
	DecisionGroupOnly    Decision = "group_only"
	DecisionNotAllowed   Decision = "not_allowed"
	DecisionNoMetadata   Decision = "no_metadata"
	DecisionAdminOnly    Decision = "admin_only"
	DecisionApplied      Decision = "applied"
	DecisionUnchanged    Decision = "unchanged"
	DecisionChangeFailed Decision = "change_failed"
)

type GatekeeperConfig struct {
	// Groups may use the command. Empty means none.
	Groups []transport.GroupID
	Texts  ManualTexts
}

// Gatekeeper serves "/grupo on|off" (or "@grupo on|off") from group admins.
type Gatekeeper struct {
	tr      transport.Transport
	toggler *Toggler
	log     logx.Logger

	mu      sync.RWMutex
	allowed map[transport.GroupID]struct{}
	texts   ManualTexts
}

func NewGatekeeper(cfg GatekeeperConfig, tr transport.Transport, toggler *Toggler, log logx.Logger) *Gatekeeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gatekeeper{tr: tr, toggler: toggler, log: log.With(logx.String("comp", "gatekeeper"))}
	g.Update(cfg)
	return g
}

func (g *Gatekeeper) Update(cfg GatekeeperConfig) {
	allowed := make(map[transport.GroupID]struct{}, len(cfg.Groups))
	for _, id := range cfg.Groups {
		allowed[id] = struct{}{}
	}
	g.mu.Lock()
	g.allowed = allowed
	g.texts = cfg.Texts
	g.mu.Unlock()
}

// ParseCommand recognizes "@grupo off", "/grupo on" and "/grupo@bot off".
// off restricts the group, on opens it.
func ParseCommand(text string) (transport.GroupMode, bool) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) != 2 {
		return "", false
	}
	cmd := fields[0]
	if at := strings.IndexByte(cmd[1:], '@'); at >= 0 {
		cmd = cmd[:at+1]
	}
	if cmd != "@grupo" && cmd != "/grupo" {
		return "", false
	}
	switch fields[1] {
	case "off":
		return transport.ModeRestricted, true
	case "on":
		return transport.ModeOpen, true
	}
	return "", false
}

// Handle answers msg when it is a group command. handled is false for any
// other text, in which case nothing is sent.
func (g *Gatekeeper) Handle(ctx context.Context, msg transport.Message) (d Decision, handled bool) {
	mode, ok := ParseCommand(msg.Text)
	if !ok {
		return "", false
	}

	g.mu.RLock()
	texts := g.texts
	_, allowed := g.allowed[msg.Group]
	g.mu.RUnlock()

	log := g.log.With(
		logx.Stringer("group", msg.Group),
		logx.String("from", string(msg.From)),
		logx.String("desired", string(mode)),
	)

	var reply string
	switch {
	case !msg.IsGroup:
		d, reply = DecisionGroupOnly, texts.GroupOnly
	case !allowed:
		d, reply = DecisionNotAllowed, texts.NotAllowed
	}
	if d == "" {
		meta, err := g.tr.FetchGroupMetadata(ctx, msg.Group)
		switch {
		case err != nil:
			log.Warn("manual command: metadata unavailable", logx.Err(err))
			d, reply = DecisionNoMetadata, texts.NoMetadata
		case !meta.IsAdmin(msg.From):
			d, reply = DecisionAdminOnly, texts.AdminOnly
		default:
			out := g.toggler.ApplyFetched(ctx, meta, mode,
				WithSource("manual"), WithActor(msg.From), WithNotice(""))
			d, reply = g.decide(out, texts)
		}
	}

	log.Info("manual group command", logx.String("decision", string(d)))
	if reply != "" {
		if err := g.tr.SendText(ctx, msg.Group, reply, nil); err != nil {
			log.Warn("manual command reply failed", logx.Err(err))
		}
	}
	return d, true
}

func (g *Gatekeeper) decide(out Outcome, texts ManualTexts) (Decision, string) {
	switch out.Result {
	case ToggleApplied:
		if out.Desired == transport.ModeOpen {
			return DecisionApplied, texts.Opened
		}
		return DecisionApplied, texts.Closed
	case ToggleUnchanged:
		if out.Desired == transport.ModeOpen {
			return DecisionUnchanged, texts.AlreadyOpen
		}
		return DecisionUnchanged, texts.AlreadyClosed
	default:
		return DecisionChangeFailed, texts.ChangeFailed
	}
}
