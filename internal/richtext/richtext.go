// Package richtext gives the engine its two views of a stored message body:
// a plain-text rendering and the set of mentioned entities. Rendering for
// display is someone else's job.
package richtext

import (
	"html"
	"regexp"
	"strings"
)

// Mention is a mentioned entity extracted from a body. Everyone marks the
// broadcast-to-everyone token, which carries no user id.
type Mention struct {
	UserID   string
	Everyone bool
}

var (
	mentionRe   = regexp.MustCompile(`<mention(?:\s+uid="([^"]*)")?(\s+everyone)?\s*>(.*?)</mention>`)
	lineBreakRe = regexp.MustCompile(`<br\s*/?>|</p>|</div>`)
	tagRe       = regexp.MustCompile(`<[^>]*>`)
)

// Body is an immutable parse of a stored rich-text body.
type Body struct {
	raw      string
	mentions []Mention
	everyone bool
}

func Parse(raw string) Body {
	b := Body{raw: raw}
	seen := make(map[string]struct{})
	for _, match := range mentionRe.FindAllStringSubmatch(raw, -1) {
		uid, everyoneAttr := match[1], match[2]
		if everyoneAttr != "" {
			b.everyone = true
			continue
		}
		if uid == "" {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		b.mentions = append(b.mentions, Mention{UserID: uid})
	}
	return b
}

func (b Body) Raw() string { return b.raw }

func (b Body) Empty() bool { return strings.TrimSpace(b.PlainText()) == "" }

// Mentions returns the mentioned users in document order, deduplicated.
// The everyone token is reported via MentionsEveryone, not here.
func (b Body) Mentions() []Mention { return b.mentions }

func (b Body) MentionsEveryone() bool { return b.everyone }

// PlainText strips markup, normalises block boundaries to newlines and
// unescapes entities.
func (b Body) PlainText() string {
	text := lineBreakRe.ReplaceAllString(b.raw, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	return strings.TrimSpace(text)
}
