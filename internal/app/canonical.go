package app

import (
	"context"
	"regexp"

	"hearth/api/internal/richtext"
	"hearth/api/internal/store"
)

// Canonical is the display-facing view of a message. For a copy, every
// accessor delegates to the resolved original; when the original cannot be
// resolved, accessors fall back to the copy's own (empty) local content
// instead of failing. The view is immutable, so repeated reads with no
// intervening mutation yield identical results.
type Canonical struct {
	Message  store.Message
	original *store.Message
}

// resolveCanonical loads the original behind a copy. A missing original is
// a degraded read, never an error.
func (s *Service) resolveCanonical(ctx context.Context, m store.Message) Canonical {
	if !m.IsCopy() {
		return Canonical{Message: m}
	}
	original, err := s.store.GetMessage(ctx, *m.OriginalMessageID)
	if err != nil {
		s.log.Warn("canonical resolution failed, using local content",
			"message_id", m.ID, "original_message_id", *m.OriginalMessageID, "err", err)
		return Canonical{Message: m}
	}
	return Canonical{Message: m, original: &original}
}

// Resolved returns the canonical message: the original when present, the
// message itself otherwise.
func (c Canonical) Resolved() store.Message {
	if c.original != nil {
		return *c.original
	}
	return c.Message
}

func (c Canonical) IsCopy() bool { return c.Message.IsCopy() }

func (c Canonical) DisplayBody() richtext.Body {
	return richtext.Parse(c.Resolved().Body)
}

func (c Canonical) Attached() bool {
	return c.Resolved().HasLocalAttachment()
}

// DisplayAttachmentFilename returns the canonical attachment's filename, or
// "" when there is none.
func (c Canonical) DisplayAttachmentFilename() string {
	resolved := c.Resolved()
	if !resolved.HasLocalAttachment() || resolved.AttachmentName == nil {
		return ""
	}
	return *resolved.AttachmentName
}

// PlainTextBody renders the body as plain text, falling back to the
// attachment filename, then to "".
func (c Canonical) PlainTextBody() string {
	if text := c.DisplayBody().PlainText(); text != "" {
		return text
	}
	return c.DisplayAttachmentFilename()
}

var soundCommandRe = regexp.MustCompile(`\A/play (\w+)\z`)

var knownSounds = map[string]struct{}{
	"56k": {}, "bell": {}, "bueller": {}, "crickets": {}, "dangerzone": {},
	"drama": {}, "greatjob": {}, "horn": {}, "horror": {}, "nyan": {},
	"ohmy": {}, "pushit": {}, "rimshot": {}, "sax": {}, "secret": {},
	"tada": {}, "tmyk": {}, "trombone": {}, "vuvuzela": {}, "yeah": {},
}

// Sound returns the sound name when the body is a /play command for a known
// sound, "" otherwise.
func (c Canonical) Sound() string {
	match := soundCommandRe.FindStringSubmatch(c.PlainTextBody())
	if match == nil {
		return ""
	}
	if _, ok := knownSounds[match[1]]; !ok {
		return ""
	}
	return match[1]
}

// ContentType classifies the message for clients: attachment, sound or text.
func (c Canonical) ContentType() string {
	switch {
	case c.Attached():
		return "attachment"
	case c.Sound() != "":
		return "sound"
	default:
		return "text"
	}
}

// DisplayBoosts returns the active boosts of the canonical message.
func (s *Service) DisplayBoosts(ctx context.Context, c Canonical) ([]store.Boost, error) {
	return s.store.ListBoosts(ctx, c.Resolved().ID)
}

// DisplayBookmarks returns the active bookmarks of the canonical message.
func (s *Service) DisplayBookmarks(ctx context.Context, c Canonical) ([]store.Bookmark, error) {
	return s.store.ListBookmarks(ctx, c.Resolved().ID)
}
