package telegram

import (
	"html"
	"regexp"
	"strings"

	"groupbot/internal/transport"
)

const (
	// TextLimit stays under Telegram's 4096 rune message cap.
	TextLimit = 4000
	// CaptionLimit is Telegram's photo caption cap.
	CaptionLimit = 1024
)

var (
	reBold   = regexp.MustCompile(`\*([^*\n]+)\*`)
	reStrike = regexp.MustCompile(`~([^~\n]+)~`)
	reItalic = regexp.MustCompile(`(^|[\s(])_([^_\n]+)_([\s).,!?]|$)`)
)

// RenderHTML converts chat markup (*bold*, _italic_, ~strike~, "> " quotes)
// into Telegram HTML. Everything else is escaped.
func RenderHTML(s string) string {
	s = html.EscapeString(s)
	s = reBold.ReplaceAllString(s, "<b>$1</b>")
	s = reStrike.ReplaceAllString(s, "<s>$1</s>")
	s = reItalic.ReplaceAllString(s, "$1<i>$2</i>$3")

	var out, quote []string
	flush := func() {
		if len(quote) > 0 {
			out = append(out, "<blockquote>"+strings.Join(quote, "\n")+"</blockquote>")
			quote = nil
		}
	}
	for _, line := range strings.Split(s, "\n") {
		if q, ok := strings.CutPrefix(line, "&gt; "); ok {
			quote = append(quote, q)
			continue
		}
		flush()
		out = append(out, line)
	}
	flush()
	return strings.Join(out, "\n")
}

// MentionLink renders an inline user mention. name falls back to a generic label.
func MentionLink(id transport.MemberID, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "membro"
	}
	return `<a href="tg://user?id=` + html.EscapeString(string(id)) + `">` + html.EscapeString(name) + `</a>`
}

// SplitText cuts s into chunks of at most limit runes, preferring newline
// boundaries. A cut never lands inside a tag or between an element's opening
// and closing tags, unless one element alone is longer than limit. Spaces and
// newlines at a cut are dropped.
func SplitText(s string, limit int) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
			end = markupBoundary(rs, start, end)
		}

		if chunk := strings.TrimRight(string(rs[start:end]), "\n "); chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && (rs[start] == '\n' || rs[start] == ' ') {
			start++
		}
	}
	return out
}

// markupBoundary moves end back to the last point in rs[start:end] that sits
// outside every tag and element. rs[start] is assumed to be such a point.
func markupBoundary(rs []rune, start, end int) int {
	depth, inTag, closing := 0, false, false
	safe, lastOpen := start, -1
	for i := start; i < end; i++ {
		if !inTag && depth == 0 {
			safe = i
		}
		switch rs[i] {
		case '<':
			inTag, lastOpen = true, i
			closing = i+1 < len(rs) && rs[i+1] == '/'
		case '>':
			if !inTag {
				continue
			}
			inTag = false
			if closing {
				depth = max(depth-1, 0)
			} else {
				depth++
			}
		}
	}
	switch {
	case !inTag && depth == 0:
		return end
	case safe > start:
		return safe
	case inTag && lastOpen > start:
		return lastOpen
	}
	return end
}
