// Package format turns ntfy push notifications into Telegram MarkdownV2 chat messages.
package format

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"ntfy2tg/pkg/bus"
)

const (
	defaultClickLabel = "Open"
	fallbackText      = "notification"

	// maxBodyRunes keeps the rendered text under the Bot API 4096 character limit
	// with room for header, tags and escapes.
	maxBodyRunes = 3000
	ellipsis     = "…"
)

// Options tunes the mapping. The zero value uses the default emoji table and link label.
type Options struct {
	IncludeTopic bool
	ClickLabel   string
	Emoji        EmojiTable
}

// Mapper is a pure, deterministic notification to chat message transformation.
// It is safe for concurrent use.
type Mapper struct {
	opts Options
}

func NewMapper(opts Options) *Mapper {
	if opts.Emoji == nil {
		opts.Emoji = DefaultEmojiTable()
	}
	opts.ClickLabel = strings.TrimSpace(opts.ClickLabel)
	if opts.ClickLabel == "" {
		opts.ClickLabel = defaultClickLabel
	}

	return &Mapper{opts: opts}
}

// Map renders n as a chat message. It reports false for control events, which carry no payload.
//
// Layout, one section per line, empty sections omitted:
//
//	<emoji glyphs> *<title>*
//	<body>
//	<unmatched tags>
//	<topic>
func (m *Mapper) Map(n bus.Notification) (bus.ChatMessage, bool) {
	if n.Event != bus.EventKindMessage {
		return bus.ChatMessage{}, false
	}

	glyphs, plainTags := m.splitTags(n.Tags)

	header := make([]string, 0, 2)
	if len(glyphs) > 0 {
		header = append(header, strings.Join(glyphs, " "))
	}
	if title := strings.TrimSpace(n.Title); title != "" {
		header = append(header, "*"+EscapeMarkdownV2(title)+"*")
	}

	lines := make([]string, 0, 4)
	if len(header) > 0 {
		lines = append(lines, strings.Join(header, " "))
	}
	if body := m.renderBody(n); body != "" {
		lines = append(lines, body)
	}
	if len(plainTags) > 0 {
		escaped := make([]string, 0, len(plainTags))
		for _, tag := range plainTags {
			escaped = append(escaped, EscapeMarkdownV2(tag))
		}
		lines = append(lines, strings.Join(escaped, " "))
	}
	if m.opts.IncludeTopic && strings.TrimSpace(n.Topic) != "" {
		lines = append(lines, EscapeMarkdownV2(strings.TrimSpace(n.Topic)))
	}

	text := strings.Join(lines, "\n")
	if text == "" {
		text = m.fallback(n)
	}

	msg := bus.ChatMessage{
		Text:      text,
		ParseMode: bus.ParseModeMarkdownV2,
		Topic:     n.Topic,
		MessageID: n.ID,
	}
	if target, ok := linkURL(n.Click); ok {
		msg.Link = &bus.Link{Label: m.opts.ClickLabel, URL: target}
	}

	return msg, true
}

// splitTags separates tags with an emoji glyph from plain tags, keeping input order.
func (m *Mapper) splitTags(tags []string) (glyphs []string, plain []string) {
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if glyph, ok := m.opts.Emoji.Lookup(tag); ok {
			glyphs = append(glyphs, glyph)
			continue
		}
		plain = append(plain, tag)
	}

	return glyphs, plain
}

func (m *Mapper) renderBody(n bus.Notification) string {
	body := strings.TrimSpace(truncateRunes(n.Message, maxBodyRunes))
	if body == "" {
		return ""
	}

	if n.IsMarkdown() {
		return MarkdownToV2(body)
	}

	return EscapeMarkdownV2(body)
}

// fallback keeps the message sendable when every section is empty.
func (m *Mapper) fallback(n bus.Notification) string {
	if topic := strings.TrimSpace(n.Topic); topic != "" {
		return EscapeMarkdownV2(topic)
	}

	return fallbackText
}

// linkURL accepts only absolute http(s) URLs with a host.
func linkURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	parsed, err := url.Parse(raw)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return "", false
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return parsed.String(), true
	default:
		return "", false
	}
}

func truncateRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)
	return string(runes[:limit]) + ellipsis
}
