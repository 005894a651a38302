package automation

import (
	"time"

	"groupbot/internal/transport"
)

// FailureKind classifies an isolated per-group failure.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureFetch       FailureKind = "fetch"
	FailureStateChange FailureKind = "state_change"
	FailureSend        FailureKind = "send"
	FailureAsset       FailureKind = "asset"
	FailureCanceled    FailureKind = "canceled"
)

// ToggleEvent is published for every Toggler decision.
type ToggleEvent struct {
	Group   transport.GroupID   `json:"group"`
	Desired transport.GroupMode `json:"desired"`
	Source  string              `json:"source"`
	Result  string              `json:"result"`
	Failure FailureKind         `json:"failure,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// BroadcastEvent is published once per group per promotion firing.
type BroadcastEvent struct {
	Group    transport.GroupID `json:"group"`
	Trigger  string            `json:"trigger"`
	Sends    int               `json:"sends"`
	Skipped  int               `json:"skipped_steps"`
	Duration time.Duration     `json:"duration"`
	Failure  FailureKind       `json:"failure,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// SendEvent is published for every outbound message attempt.
type SendEvent struct {
	Group transport.GroupID `json:"group"`
	Kind  string            `json:"kind"` // "text" | "image" | "mention"
	OK    bool              `json:"ok"`
}
