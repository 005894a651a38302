package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	rtsup "groupbot/internal/runtime/supervisor"
	logx "groupbot/pkg/logx"
)

// systemdNotifier speaks sd_notify. Outside a systemd unit every call is a no-op.
type systemdNotifier struct {
	log    logx.Logger
	notify func(unsetEnv bool, state string) (bool, error)
	// watchdog reports the unit's WatchdogSec, 0 when disabled.
	watchdog func() time.Duration
}

func newSystemdNotifier(log logx.Logger) *systemdNotifier {
	return &systemdNotifier{
		log:    log.With(logx.String("comp", "systemd")),
		notify: daemon.SdNotify,
		watchdog: func() time.Duration {
			d, err := daemon.SdWatchdogEnabled(false)
			if err != nil {
				return 0
			}
			return d
		},
	}
}

func (n *systemdNotifier) send(state string) bool {
	ok, err := n.notify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return ok
}

// Ready sends READY=1 and, when the unit enables it, pings the watchdog at
// half its interval under sup.
func (n *systemdNotifier) Ready(sup *rtsup.Supervisor) {
	if !n.send(daemon.SdNotifyReady) {
		return
	}
	n.log.Debug("notified systemd: ready")

	every := n.watchdog() / 2
	if every <= 0 {
		return
	}
	sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n.send(daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (n *systemdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }
