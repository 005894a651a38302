package transport

import (
	"context"
	"errors"
)

var (
	ErrGroupNotFound = errors.New("group not found")
	ErrNotPermitted  = errors.New("bot lacks admin rights in group")
)

// GroupID identifies a group conversation on the messaging platform.
// It is opaque to everything outside the adapter.
type GroupID string

func (g GroupID) String() string { return string(g) }

// MemberID identifies a participant.
type MemberID string

// GroupMode is the posting policy of a group.
type GroupMode string

const (
	// ModeRestricted: only administrators may post.
	ModeRestricted GroupMode = "restricted"
	// ModeOpen: any member may post.
	ModeOpen GroupMode = "open"
)

func (m GroupMode) Valid() bool { return m == ModeRestricted || m == ModeOpen }

type Member struct {
	ID      MemberID
	Name    string
	IsAdmin bool
}

// GroupMetadata is a point-in-time snapshot fetched from the platform.
type GroupMetadata struct {
	ID      GroupID
	Title   string
	Mode    GroupMode
	Members []Member
}

// IsAdmin reports whether id is listed as an administrator in the snapshot.
func (m GroupMetadata) IsAdmin(id MemberID) bool {
	for _, p := range m.Members {
		if p.ID == id {
			return p.IsAdmin
		}
	}
	return false
}

// MemberIDs returns every participant id, in snapshot order.
func (m GroupMetadata) MemberIDs() []MemberID {
	out := make([]MemberID, 0, len(m.Members))
	for _, p := range m.Members {
		out = append(out, p.ID)
	}
	return out
}

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateJoin    UpdateKind = "join"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID       int
	Group    GroupID
	IsGroup  bool
	From     MemberID
	FromName string
	Text     string
}

// Transport is the outbound contract used by the automation layer.
type Transport interface {
	FetchGroupMetadata(ctx context.Context, group GroupID) (GroupMetadata, error)
	SetGroupMode(ctx context.Context, group GroupID, mode GroupMode) error
	SendText(ctx context.Context, group GroupID, text string, mentions []MemberID) error
	SendImage(ctx context.Context, group GroupID, image []byte, caption string) error
}

// Adapter is a Transport bound to a live platform session.
type Adapter interface {
	Transport
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
