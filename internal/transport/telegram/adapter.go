// Package telegram binds the transport contract to the Telegram Bot API.
//
// Group ids are Telegram chat ids rendered in decimal. Restricted mode maps to
// the group's default permission can_send_messages=false, so only
// administrators can post.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "groupbot/internal/runtime/supervisor"
	"groupbot/internal/storage"
	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

type Config struct {
	Token          string
	APIURL         string
	PollTimeout    time.Duration
	RequestTimeout time.Duration
}

// Directory lists members the bot has seen. Telegram only exposes
// administrators, so everyone else comes from here. storage.Store satisfies it.
type Directory interface {
	ListMembers(ctx context.Context, group string) ([]storage.MemberRecord, error)
}

type Adapter struct {
	cfg Config
	log logx.Logger
	dir Directory

	bot     *tele.Bot
	out     atomic.Value // chan<- transport.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates atomic.Uint64

	namesMu sync.RWMutex
	names   map[transport.MemberID]string
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, dir Directory, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = cfg.PollTimeout + 20*time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:    strings.TrimSpace(cfg.APIURL),
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		Client: &http.Client{Timeout: cfg.RequestTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "telegram")),
		dir:   dir,
		bot:   b,
		names: map[transport.MemberID]string{},
	}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Me returns the bot account's username.
func (a *Adapter) Me() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil || m.Sender == nil {
			return nil
		}
		a.rememberName(m.Sender)
		a.sendUpdate(transport.Update{
			Kind: transport.UpdateMessage,
			Message: &transport.Message{
				ID:       m.ID,
				Group:    groupID(m.Chat.ID),
				IsGroup:  isGroupChat(m.Chat),
				From:     memberID(m.Sender.ID),
				FromName: displayName(m.Sender),
				Text:     m.Text,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		joined := m.UsersJoined
		if m.UserJoined != nil {
			joined = []tele.User{*m.UserJoined}
		}
		for i := range joined {
			u := &joined[i]
			if u.IsBot {
				continue
			}
			a.rememberName(u)
			a.sendUpdate(transport.Update{
				Kind: transport.UpdateJoin,
				Message: &transport.Message{
					ID:       m.ID,
					Group:    groupID(m.Chat.ID),
					IsGroup:  true,
					From:     memberID(u.ID),
					FromName: displayName(u),
				},
			})
		}
		return nil
	})
}

func (a *Adapter) sendUpdate(up transport.Update) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.droppedUpdates.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop; restart it if it returns while still wanted.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started", logx.String("bot", a.Me()))
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	// Long-poll may still be waiting on getUpdates; do not hold shutdown for it.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) FetchGroupMetadata(ctx context.Context, group transport.GroupID) (transport.GroupMetadata, error) {
	id, err := parseGroupID(group)
	if err != nil {
		return transport.GroupMetadata{}, err
	}
	chat, err := call(ctx, func() (*tele.Chat, error) { return a.bot.ChatByID(id) })
	if err != nil {
		return transport.GroupMetadata{}, classify(err)
	}
	admins, err := call(ctx, func() ([]tele.ChatMember, error) { return a.bot.AdminsOf(chat) })
	if err != nil {
		return transport.GroupMetadata{}, classify(err)
	}

	meta := transport.GroupMetadata{ID: group, Title: chat.Title, Mode: modeOf(chat)}
	seen := map[transport.MemberID]bool{}
	for _, cm := range admins {
		if cm.User == nil || cm.User.IsBot {
			continue
		}
		a.rememberName(cm.User)
		mid := memberID(cm.User.ID)
		seen[mid] = true
		meta.Members = append(meta.Members, transport.Member{ID: mid, Name: displayName(cm.User), IsAdmin: true})
	}
	if a.dir != nil {
		known, err := a.dir.ListMembers(ctx, group.String())
		if err != nil {
			a.log.Debug("member directory unavailable", logx.Stringer("group", group), logx.Err(err))
		}
		for _, r := range known {
			mid := transport.MemberID(r.MemberID)
			if seen[mid] {
				continue
			}
			seen[mid] = true
			a.setName(mid, r.Name)
			meta.Members = append(meta.Members, transport.Member{ID: mid, Name: r.Name})
		}
	}
	return meta, nil
}

func (a *Adapter) SetGroupMode(ctx context.Context, group transport.GroupID, mode transport.GroupMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid group mode %q", mode)
	}
	id, err := parseGroupID(group)
	if err != nil {
		return err
	}
	chat, err := call(ctx, func() (*tele.Chat, error) { return a.bot.ChatByID(id) })
	if err != nil {
		return classify(err)
	}
	_, err = call(ctx, func() (struct{}, error) {
		return struct{}{}, a.bot.SetGroupPermissions(chat, permissionsFor(chat.Permissions, mode))
	})
	return classify(err)
}

func (a *Adapter) SendText(ctx context.Context, group transport.GroupID, text string, mentions []transport.MemberID) error {
	id, err := parseGroupID(group)
	if err != nil {
		return err
	}
	body := RenderHTML(text)
	if len(mentions) > 0 {
		body += "\n\n" + a.mentionBlock(mentions)
	}
	chat := &tele.Chat{ID: id}
	for _, chunk := range SplitText(body, TextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := call(ctx, func() (*tele.Message, error) {
			return a.bot.Send(chat, chunk, &tele.SendOptions{ParseMode: tele.ModeHTML})
		})
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (a *Adapter) SendImage(ctx context.Context, group transport.GroupID, image []byte, caption string) error {
	id, err := parseGroupID(group)
	if err != nil {
		return err
	}
	rendered := RenderHTML(caption)
	photo := &tele.Photo{File: tele.FromReader(bytes.NewReader(image))}
	overflow := len([]rune(rendered)) > CaptionLimit
	if !overflow {
		photo.Caption = rendered
	}
	_, err = call(ctx, func() (*tele.Message, error) {
		return a.bot.Send(&tele.Chat{ID: id}, photo, &tele.SendOptions{ParseMode: tele.ModeHTML})
	})
	if err != nil {
		return classify(err)
	}
	if overflow {
		return a.SendText(ctx, group, caption, nil)
	}
	return nil
}

func (a *Adapter) mentionBlock(ids []transport.MemberID) string {
	a.namesMu.RLock()
	defer a.namesMu.RUnlock()
	links := make([]string, 0, len(ids))
	for _, id := range ids {
		links = append(links, MentionLink(id, a.names[id]))
	}
	return strings.Join(links, " ")
}

func (a *Adapter) rememberName(u *tele.User) {
	if u == nil {
		return
	}
	a.setName(memberID(u.ID), displayName(u))
}

func (a *Adapter) setName(id transport.MemberID, name string) {
	if name == "" {
		return
	}
	a.namesMu.Lock()
	a.names[id] = name
	a.namesMu.Unlock()
}

// call runs fn so that ctx bounds the wait even though telebot takes no context.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "chat not found"):
		return fmt.Errorf("%w: %v", transport.ErrGroupNotFound, err)
	case strings.Contains(msg, "not enough rights"), strings.Contains(msg, "administrator"):
		return fmt.Errorf("%w: %v", transport.ErrNotPermitted, err)
	}
	return err
}

// modeOf reports restricted only when members hold no send right at all.
func modeOf(chat *tele.Chat) transport.GroupMode {
	if chat.Permissions != nil && !canSendAny(chat.Permissions) {
		return transport.ModeRestricted
	}
	return transport.ModeOpen
}

// permissionsFor keeps the group's other defaults (invite, pin, info, topics)
// and sets every member send right at once. Independent stops Telegram from
// re-deriving one right from another.
func permissionsFor(cur *tele.Rights, mode transport.GroupMode) tele.Rights {
	var r tele.Rights
	if cur != nil {
		r = *cur
	}
	allow := mode == transport.ModeOpen
	for _, f := range sendRights(&r) {
		*f = allow
	}
	r.Independent = true
	return r
}

func sendRights(r *tele.Rights) []*bool {
	return []*bool{
		&r.CanSendMessages,
		&r.CanSendAudios,
		&r.CanSendDocuments,
		&r.CanSendPhotos,
		&r.CanSendVideos,
		&r.CanSendVideoNotes,
		&r.CanSendVoiceNotes,
		&r.CanSendPolls,
		&r.CanSendOther,
		&r.CanAddPreviews,
	}
}

func canSendAny(r *tele.Rights) bool {
	for _, f := range sendRights(r) {
		if *f {
			return true
		}
	}
	return false
}

func isGroupChat(c *tele.Chat) bool {
	return c.Type == tele.ChatGroup || c.Type == tele.ChatSuperGroup
}

func groupID(id int64) transport.GroupID { return transport.GroupID(strconv.FormatInt(id, 10)) }

func memberID(id int64) transport.MemberID { return transport.MemberID(strconv.FormatInt(id, 10)) }

func parseGroupID(g transport.GroupID) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(string(g)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad chat id %q", transport.ErrGroupNotFound, g)
	}
	return id, nil
}

func displayName(u *tele.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}
