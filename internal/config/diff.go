package config

import (
	"reflect"
	"sort"
	"strings"

	logx "groupbot/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) safe structured
// attrs for logging (never tokens), and (3) the changed sections that only
// take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	restart := make([]string, 0, 3)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || strings.TrimSpace(ot.APIURL) != strings.TrimSpace(nt.APIURL) ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) || ot.UpdateWorkers != nt.UpdateWorkers {
		changed = append(changed, "telegram")
		restart = append(restart, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	// HTTP (never log token)
	oh, nh := oldCfg.HTTP, newCfg.HTTP
	oh.Token, nh.Token = tokenMark(oh.Token), tokenMark(nh.Token)
	if oh != nh {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.token_set", nh.Token != ""),
			logx.Bool("http.pprof", nh.Pprof),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		sc := newCfg.Scheduler
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", sc.Enabled == nil || *sc.Enabled),
			logx.Int("scheduler.workers", sc.Workers),
			logx.String("scheduler.default_timeout", strings.TrimSpace(sc.DefaultTimeout)),
		)
	}

	if oldCfg.Transport != newCfg.Transport {
		changed = append(changed, "transport")
		restart = append(restart, "transport")
		attrs = append(attrs,
			logx.String("transport.call_timeout", strings.TrimSpace(newCfg.Transport.CallTimeout)),
			logx.Any("transport.send_rate_per_sec", newCfg.Transport.SendRatePerSec),
		)
	}

	// Storage (nil means disabled)
	var ost, nst StorageConfig
	if oldCfg.Storage != nil {
		ost = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nst = *newCfg.Storage
	}
	if ost != nst {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nst.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nst.Path) != ""),
		)
	}

	oa, na := oldCfg.Automation, newCfg.Automation
	if oa.Timezone != na.Timezone || oa.Assets != na.Assets || !reflect.DeepEqual(oa.Groups, na.Groups) || !reflect.DeepEqual(oa.Manual, na.Manual) {
		changed = append(changed, "automation.groups")
		attrs = append(attrs,
			logx.String("automation.timezone", strings.TrimSpace(na.Timezone)),
			logx.String("automation.groups.close", na.Groups.Close),
			logx.String("automation.groups.open", na.Groups.Open),
			logx.Int("automation.groups.managed", len(na.Groups.Managed)),
		)
	}
	if !reflect.DeepEqual(oa.Promotions, na.Promotions) {
		changed = append(changed, "automation.promotions")
		attrs = append(attrs,
			logx.Int("automation.promotions.triggers", len(na.Promotions.Triggers)),
			logx.Int("automation.promotions.targets", len(na.Promotions.Targets)),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

// tokenMark keeps only whether a secret is set so diffs never carry it.
func tokenMark(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "set"
}
