package format

import "testing"

func TestEscapeMarkdownV2(t *testing.T) {
	tests := map[string]string{
		"":                   "",
		"plain text":         "plain text",
		"_*[]()~`>#+-=|{}.!": "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!",
		"back\\slash":        "back\\\\slash",
		"ünïcödé 95%":        "ünïcödé 95%",
		"nul\x00byte":        "nulbyte",
	}

	for input, want := range tests {
		if got := EscapeMarkdownV2(input); got != want {
			t.Errorf("EscapeMarkdownV2(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestMarkdownToV2(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain", input: "hello world.", want: "hello world\\."},
		{name: "bold", input: "**bold** text", want: "*bold* text"},
		{name: "bold underscores", input: "__bold__", want: "*bold*"},
		{name: "italic star", input: "an *italic* word", want: "an _italic_ word"},
		{name: "italic underscore", input: "an _italic_ word", want: "an _italic_ word"},
		{name: "snake case untouched", input: "my_var_name", want: "my\\_var\\_name"},
		{name: "strike", input: "~~gone~~", want: "~gone~"},
		{name: "inline code", input: "run `make test-all`", want: "run `make test-all`"},
		{name: "inline code escapes", input: "`a\\b`", want: "`a\\\\b`"},
		{name: "code block", input: "```go\nfmt.Println(\"a.b\")\n```", want: "```go\nfmt.Println(\"a.b\")\n```"},
		{name: "code block spaced language", input: "``` go\nx := 1\n```", want: "```go\nx := 1\n```"},
		{name: "link", input: "see [the docs](https://docs.ntfy.sh/subscribe/api/)", want: "see [the docs](https://docs.ntfy.sh/subscribe/api/)"},
		{name: "link with paren", input: "[wiki](https://en.wikipedia.org/wiki/Go_(language))", want: "[wiki](https://en.wikipedia.org/wiki/Go_(language\\))"},
		{name: "link with paren mid url", input: "[link](http://x.com/a_(b)/c)", want: "[link](http://x.com/a_(b\\)/c)"},
		{name: "link escapes text", input: "[v1.2](https://example.com)", want: "[v1\\.2](https://example.com)"},
		{name: "invalid link kept literal", input: "[x](notaurl)", want: "\\[x\\]\\(notaurl\\)"},
		{name: "heading", input: "# Release 1.0", want: "*Release 1\\.0*"},
		{name: "list", input: "- one\n- two", want: "• one\n• two"},
		{name: "quote", input: "> quoted!", want: ">quoted\\!"},
		{name: "code inside bold", input: "**use `x`**", want: "*use `x`*"},
		{name: "unbalanced markers", input: "2 * 3 = 6 and a ** b", want: "2 \\* 3 \\= 6 and a \\*\\* b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MarkdownToV2(tt.input); got != tt.want {
				t.Fatalf("MarkdownToV2(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMarkdownToV2StripsPlaceholderBytes(t *testing.T) {
	got := MarkdownToV2("\x000\x00 **x**")
	if got != "0 *x*" {
		t.Fatalf("MarkdownToV2 = %q, want %q", got, "0 *x*")
	}
}
