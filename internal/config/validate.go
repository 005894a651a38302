package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"groupbot/internal/automation"
)

// Validate reports hard errors: anything Resolve rejects plus a missing token.
func Validate(cfg *Config) error {
	s, err := Resolve(cfg)
	if err != nil {
		return err
	}
	if s.Telegram.Token == "" {
		return errors.New("telegram.token: required")
	}
	if s.HTTP.Enabled && s.HTTP.Token == "" && !s.HTTP.AllowInsecure && !isLoopbackAddr(s.HTTP.Addr) {
		return fmt.Errorf("http.addr: %q is not loopback; set http.token or http.allow_insecure", s.HTTP.Addr)
	}
	return nil
}

// Hazards lists settings that load fine but are probably mistakes. They are
// logged at startup and printed by the check command.
func Hazards(s *Settings) []string {
	if s == nil {
		return nil
	}
	var out []string
	if s.Daily.Close == s.Daily.Open {
		out = append(out, fmt.Sprintf("automation.groups: close and open are both %s; close wins and groups never reopen", s.Daily.Close))
	}
	if len(s.Daily.Groups) == 0 {
		out = append(out, "automation.groups.managed: empty; the daily toggle does nothing")
	}
	if len(s.Promotions.Targets) == 0 {
		out = append(out, "automation.promotions.targets: empty; promotions are never sent")
	}
	if n := len(s.Promotions.Targets); n > automation.MaxPromotionTargets {
		out = append(out, fmt.Sprintf("automation.promotions.targets: %d listed, only the first %d are used", n, automation.MaxPromotionTargets))
	}
	if len(s.Promotions.Triggers) == 0 {
		out = append(out, "automation.promotions.triggers: empty; promotions are never scheduled")
	}
	seen := make(map[string]bool, len(s.Promotions.Triggers))
	for _, sp := range s.Promotions.Triggers {
		if key := sp.String(); seen[key] {
			out = append(out, fmt.Sprintf("automation.promotions.triggers: %q listed more than once; the repeat is ignored", key))
		} else {
			seen[key] = true
		}
	}
	if n := len(s.Plan.Images); n > automation.MaxImageSteps {
		out = append(out, fmt.Sprintf("automation.promotions.images: %d listed, only the first %d are sent", n, automation.MaxImageSteps))
	}
	if !s.Scheduler {
		out = append(out, "scheduler.enabled: false; neither the daily toggle nor promotions will run")
	}
	if s.Log.Chat.Enabled && strings.TrimSpace(s.Log.Chat.Group) == "" {
		out = append(out, "logging.chat.group: empty while chat logging is enabled")
	}
	return out
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
