package format

import "strings"

// markdownV2Specials are the characters that must be backslash-escaped in MarkdownV2 text.
const markdownV2Specials = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdownV2 escapes text so it renders literally under the MarkdownV2 parse mode.
//
// Invalid UTF-8 sequences are dropped rather than rejected.
func EscapeMarkdownV2(text string) string {
	return escapeSet(text, markdownV2Specials)
}

// escapeCode escapes text placed inside inline code or a pre block.
func escapeCode(text string) string {
	return escapeSet(text, "`\\")
}

// escapeLinkURL escapes the URL part of an inline link.
func escapeLinkURL(text string) string {
	return escapeSet(text, ")\\")
}

func escapeSet(text, specials string) string {
	text = strings.ToValidUTF8(text, "")

	var b strings.Builder
	b.Grow(len(text) + len(text)/8)
	for _, r := range text {
		if r == 0 {
			continue
		}
		if r < 128 && strings.ContainsRune(specials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}

	return b.String()
}
