package format

import (
	"strings"
	"sync"

	"github.com/kyokomi/emoji/v2"
)

// EmojiTable maps tag short-codes (without colons, e.g. "warning") to glyphs.
type EmojiTable map[string]string

var defaultEmojiTable = sync.OnceValue(func() EmojiTable {
	codes := emoji.CodeMap()
	table := make(EmojiTable, len(codes))
	for code, glyph := range codes {
		name := strings.Trim(code, ":")
		if name == "" || glyph == "" {
			continue
		}
		table[name] = strings.TrimSpace(glyph)
	}
	return table
})

// DefaultEmojiTable returns the gemoji short-code table ntfy uses for tags.
//
// The returned map is shared; callers must not modify it.
func DefaultEmojiTable() EmojiTable {
	return defaultEmojiTable()
}

// Lookup returns the glyph for tag, matching short-codes case-insensitively.
func (t EmojiTable) Lookup(tag string) (string, bool) {
	tag = strings.Trim(strings.TrimSpace(tag), ":")
	if tag == "" {
		return "", false
	}

	if glyph, ok := t[tag]; ok {
		return glyph, true
	}

	glyph, ok := t[strings.ToLower(tag)]
	return glyph, ok
}
