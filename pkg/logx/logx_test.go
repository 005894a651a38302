package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestWithAddsFixedFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "daily"))
	log.Info("closed", String("group", "-100"), Int("n", 2))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if m["comp"] != "daily" || m["group"] != "-100" || m["message"] != "closed" {
		t.Fatalf("unexpected record: %v", m)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("ignored")
	if Nop().IsZero() {
		t.Fatalf("Nop should not be zero")
	}
}

func TestFormatChatRecord(t *testing.T) {
	t.Parallel()
	got := formatChatRecord([]byte(`{"level":"warn","message":"send failed","group":"-1","err":"boom","time":"x","caller":"a.go:1"}`))
	want := "[WARN] send failed\n- err=boom\n- group=-1"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if raw := formatChatRecord([]byte("  plain text \n")); raw != "plain text" {
		t.Fatalf("raw fallback=%q", raw)
	}
	long := formatChatRecord([]byte(strings.Repeat("x", 5000)))
	if len(long) != 3500 || !strings.HasSuffix(long, "...") {
		t.Fatalf("truncate failed: len=%d", len(long))
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"olá", 10, "olá"},
		{strings.Repeat("é", 10), 12, strings.Repeat("é", 4) + "..."},
		{strings.Repeat("é", 10), 13, strings.Repeat("é", 5) + "..."},
		{"aé", 2, "a"},
		{"🔥🔥🔥", 5, "🔥"},
	}
	for _, tc := range cases {
		got := truncate(tc.in, tc.max)
		if got != tc.want {
			t.Fatalf("truncate(%q, %d)=%q want %q", tc.in, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) || len(got) > tc.max {
			t.Fatalf("truncate(%q, %d) broke a rune or the cap: %q", tc.in, tc.max, got)
		}
	}

	long := formatChatRecord([]byte(`{"level":"error","message":"` + strings.Repeat("📞", 1200) + `"}`))
	if !utf8.ValidString(long) || len(long) > 3500 || !strings.HasSuffix(long, "...") {
		t.Fatalf("record truncate: valid=%v len=%d", utf8.ValidString(long), len(long))
	}
}

type groupID string

func (g groupID) String() string { return "g:" + string(g) }

func TestWithDoesNotShareFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	base := NewWriter(&buf, "info").With(String("comp", "promotions"))
	a := base.With(Stringer("group", groupID("a")))
	b := base.With(Stringer("group", groupID("b")))

	a.Info("one")
	b.Info("two")
	base.Info("three")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("want 3 records, got %d", len(lines))
	}
	var recs [3]map[string]any
	for i, l := range lines {
		if err := json.Unmarshal([]byte(l), &recs[i]); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	if recs[0]["group"] != "g:a" || recs[1]["group"] != "g:b" {
		t.Fatalf("derived loggers leaked fields: %v %v", recs[0], recs[1])
	}
	if _, ok := recs[2]["group"]; ok {
		t.Fatalf("base logger gained a field: %v", recs[2])
	}
	if c, _ := recs[0]["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller=%q", c)
	}
}
