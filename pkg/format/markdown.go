package format

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	codeBlockRe  = regexp.MustCompile("(?s)```[ \t]*([\\w+-]*)\\n?(.*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`\\n]+)`")
	linkRe       = regexp.MustCompile(`\[([^\]\n]+)\]\(((?:[^()\s]|\([^()\s]*\))+)\)`)
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+?)[ \t#]*$`)
	listItemRe   = regexp.MustCompile(`(?m)^([ \t]*)[-*+][ \t]+`)
	quoteRe      = regexp.MustCompile(`(?m)^>[ \t]?`)
	boldRe       = regexp.MustCompile(`\*\*([^*\n]+?)\*\*|__([^_\n]+?)__`)
	strikeRe     = regexp.MustCompile(`~~([^~\n]+?)~~`)
	italicStarRe = regexp.MustCompile(`\*([^*\s][^*\n]*?)\*`)
	italicUndRe  = regexp.MustCompile(`\b_([^_\n]+?)_\b`)
	placeholder  = regexp.MustCompile("\x00(\\d+)\x00")
)

// segments holds rendered MarkdownV2 fragments hidden behind NUL-delimited placeholders
// while the surrounding text is still raw.
type segments []string

func (s *segments) hide(rendered string) string {
	idx := len(*s)
	*s = append(*s, rendered)
	return "\x00" + strconv.Itoa(idx) + "\x00"
}

// restore expands placeholders, including placeholders nested inside rendered fragments.
func (s segments) restore(text string) string {
	for range len(s) + 1 {
		if !strings.Contains(text, "\x00") {
			return text
		}
		text = placeholder.ReplaceAllStringFunc(text, func(match string) string {
			idx, err := strconv.Atoi(strings.Trim(match, "\x00"))
			if err != nil || idx < 0 || idx >= len(s) {
				return ""
			}
			return s[idx]
		})
	}

	return strings.ReplaceAll(text, "\x00", "")
}

// MarkdownToV2 converts CommonMark-style markdown into Telegram MarkdownV2.
//
// Supported: fenced and inline code, links, headings (rendered bold), bold, italic,
// strikethrough, block quotes and bullet lists. Anything else is escaped and shown literally.
func MarkdownToV2(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(strings.ToValidUTF8(text, ""), "\x00", "")
	var segs segments

	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := codeBlockRe.FindStringSubmatch(match)
		body := strings.TrimSuffix(parts[2], "\n")
		return segs.hide("```" + parts[1] + "\n" + escapeCode(body) + "\n```")
	})

	text = inlineCodeRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := inlineCodeRe.FindStringSubmatch(match)
		return segs.hide("`" + escapeCode(parts[1]) + "`")
	})

	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		if _, ok := linkURL(parts[2]); !ok {
			return match
		}
		return segs.hide("[" + escapePreservingPlaceholders(parts[1]) + "](" + escapeLinkURL(parts[2]) + ")")
	})

	text = headingRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := headingRe.FindStringSubmatch(match)
		return segs.hide("*" + escapePreservingPlaceholders(parts[1]) + "*")
	})

	text = listItemRe.ReplaceAllString(text, "$1• ")
	text = quoteRe.ReplaceAllStringFunc(text, func(string) string {
		return segs.hide(">")
	})

	text = boldRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := boldRe.FindStringSubmatch(match)
		inner := parts[1]
		if inner == "" {
			inner = parts[2]
		}
		return segs.hide("*" + escapePreservingPlaceholders(inner) + "*")
	})

	text = strikeRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := strikeRe.FindStringSubmatch(match)
		return segs.hide("~" + escapePreservingPlaceholders(parts[1]) + "~")
	})

	text = italicStarRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := italicStarRe.FindStringSubmatch(match)
		return segs.hide("_" + escapePreservingPlaceholders(parts[1]) + "_")
	})

	text = italicUndRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := italicUndRe.FindStringSubmatch(match)
		return segs.hide("_" + escapePreservingPlaceholders(parts[1]) + "_")
	})

	return segs.restore(escapePreservingPlaceholders(text))
}

// escapePreservingPlaceholders escapes raw text while leaving NUL-delimited placeholders intact.
func escapePreservingPlaceholders(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for {
		start := strings.IndexByte(text, 0)
		if start < 0 {
			b.WriteString(EscapeMarkdownV2(text))
			return b.String()
		}

		end := strings.IndexByte(text[start+1:], 0)
		if end < 0 {
			b.WriteString(EscapeMarkdownV2(text))
			return b.String()
		}
		end += start + 2

		b.WriteString(EscapeMarkdownV2(text[:start]))
		b.WriteString(text[start:end])
		text = text[end:]
	}
}
