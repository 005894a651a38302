package telegram

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"groupbot/internal/transport"
)

func TestRenderHTML(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"*Grupo fechado*", "<b>Grupo fechado</b>"},
		{"a < b & c", "a &lt; b &amp; c"},
		{"~old~ price", "<s>old</s> price"},
		{"say _hi_ now", "say <i>hi</i> now"},
		{"file_name_here", "file_name_here"},
		{"line\n> quoted\n> more\nafter", "line\n<blockquote>quoted\nmore</blockquote>\nafter"},
		{"*one*\n*two*", "<b>one</b>\n<b>two</b>"},
	}
	for _, tc := range cases {
		if got := RenderHTML(tc.in); got != tc.want {
			t.Fatalf("RenderHTML(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestMentionLink(t *testing.T) {
	t.Parallel()
	if got := MentionLink("42", "Ana <3"); got != `<a href="tg://user?id=42">Ana &lt;3</a>` {
		t.Fatalf("got %q", got)
	}
	if got := MentionLink("7", " "); !strings.Contains(got, ">membro<") {
		t.Fatalf("fallback label missing: %q", got)
	}
}

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := SplitText("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextRespectsLimitAndNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("x", 30)
	s := strings.Join([]string{line, line, line, line}, "\n")

	chunks := SplitText(s, 70)

	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 70 {
			t.Fatalf("chunk over limit (%d): %q", n, c)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has edge newline: %q", c)
		}
	}
	if joined := strings.Join(chunks, "\n"); joined != s {
		t.Fatalf("content lost:\n%q\n%q", joined, s)
	}
}

func TestSplitTextAvoidsCuttingTags(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("a", 18) + `<a href="tg://user?id=1">x</a>`

	chunks := SplitText(s, 25)

	if !strings.HasPrefix(chunks[1], "<a ") {
		t.Fatalf("tag split across chunks: %q", chunks)
	}
}

func TestSplitTextKeepsMentionLinksWhole(t *testing.T) {
	t.Parallel()
	links := make([]string, 120)
	for i := range links {
		links[i] = MentionLink(transport.MemberID(strconv.Itoa(100000000+i)), fmt.Sprintf("Maria da Silva %d", i))
	}
	body := RenderHTML("*Promoção do dia*\nFale connosco.") + "\n\n" + strings.Join(links, " ")

	chunks := SplitText(body, TextLimit)

	if len(chunks) < 2 {
		t.Fatalf("expected the mention block to span chunks, got %d", len(chunks))
	}
	seen := 0
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > TextLimit {
			t.Fatalf("chunk %d over limit (%d)", i, n)
		}
		opens, closes := strings.Count(c, "<a "), strings.Count(c, "</a>")
		if opens != closes {
			t.Fatalf("chunk %d has %d <a and %d </a>", i, opens, closes)
		}
		if strings.Count(c, "<b>") != strings.Count(c, "</b>") {
			t.Fatalf("chunk %d splits bold: %q", i, c)
		}
		seen += closes
	}
	if seen != len(links) {
		t.Fatalf("mentions delivered=%d, want %d", seen, len(links))
	}
}

func TestSplitTextSmallLimitKeepsElements(t *testing.T) {
	t.Parallel()
	link := MentionLink("42", "Ana")
	s := strings.Repeat(link+" ", 5) + link

	chunks := SplitText(s, len(link)+10)

	if len(chunks) != 6 {
		t.Fatalf("chunks=%d, want 6: %q", len(chunks), chunks)
	}
	for _, c := range chunks {
		if c != link {
			t.Fatalf("chunk %q, want whole link", c)
		}
	}
}

func TestPermissionsFor(t *testing.T) {
	t.Parallel()
	cur := &tele.Rights{
		CanSendMessages: true,
		CanSendOther:    true,
		CanAddPreviews:  true,
		CanSendPhotos:   true,
		CanSendPolls:    true,
		CanInviteUsers:  true,
		CanPinMessages:  true,
	}

	got := permissionsFor(cur, transport.ModeRestricted)
	want := tele.Rights{CanInviteUsers: true, CanPinMessages: true, Independent: true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("restricted rights=%+v, want %+v", got, want)
	}

	got = permissionsFor(&got, transport.ModeOpen)
	want = tele.Rights{
		CanSendMessages:   true,
		CanSendAudios:     true,
		CanSendDocuments:  true,
		CanSendPhotos:     true,
		CanSendVideos:     true,
		CanSendVideoNotes: true,
		CanSendVoiceNotes: true,
		CanSendPolls:      true,
		CanSendOther:      true,
		CanAddPreviews:    true,
		CanInviteUsers:    true,
		CanPinMessages:    true,
		Independent:       true,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("open rights=%+v, want %+v", got, want)
	}

	if r := permissionsFor(nil, transport.ModeOpen); !r.CanSendMessages || !r.CanSendVoiceNotes || !r.Independent {
		t.Fatalf("open from nil=%+v", r)
	}
}

func TestModeOf(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		perm *tele.Rights
		want transport.GroupMode
	}{
		{"no permissions", nil, transport.ModeOpen},
		{"nothing allowed", &tele.Rights{}, transport.ModeRestricted},
		{"only invites", &tele.Rights{CanInviteUsers: true}, transport.ModeRestricted},
		{"text blocked, photos allowed", &tele.Rights{CanSendPhotos: true}, transport.ModeOpen},
		{"previews only", &tele.Rights{CanAddPreviews: true}, transport.ModeOpen},
		{"after restrict", ptr(permissionsFor(nil, transport.ModeRestricted)), transport.ModeRestricted},
		{"after open", ptr(permissionsFor(nil, transport.ModeOpen)), transport.ModeOpen},
	}
	for _, tc := range cases {
		if m := modeOf(&tele.Chat{Permissions: tc.perm}); m != tc.want {
			t.Fatalf("%s: mode=%s, want %s", tc.name, m, tc.want)
		}
	}
}

func ptr[T any](v T) *T { return &v }

func TestParseGroupID(t *testing.T) {
	t.Parallel()
	id, err := parseGroupID("-1001234")
	if err != nil || id != -1001234 {
		t.Fatalf("got (%d, %v)", id, err)
	}
	if _, err := parseGroupID("abc@g.us"); err == nil {
		t.Fatalf("expected error for non numeric id")
	}
	if g := groupID(-5); g != "-5" {
		t.Fatalf("groupID=%q", g)
	}
}
