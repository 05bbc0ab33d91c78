package slack

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/slack-go/slack"
)

type style = slack.RichTextSectionTextStyle

func textBlock(runs ...slack.RichTextSectionElement) slack.Block {
	return slack.NewRichTextBlock("", slack.NewRichTextSection(runs...))
}

func header(s string) slack.Block {
	return slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, s, false, false))
}

func styled(s string, st style) slack.RichTextSectionElement {
	return slack.NewRichTextSectionTextElement(s, &st)
}

func plain(s string) slack.RichTextSectionElement {
	return slack.NewRichTextSectionTextElement(s, nil)
}

func quoteBlock(runs ...slack.RichTextSectionElement) slack.Block {
	q := slack.RichTextQuote(*slack.NewRichTextSection(runs...))
	q.Type = slack.RTEQuote
	return slack.NewRichTextBlock("", &q)
}

func codeBlock(code string) slack.Block {
	pre := &slack.RichTextPreformatted{RichTextSection: *slack.NewRichTextSection(plain(code))}
	pre.Type = slack.RTEPreformatted
	return slack.NewRichTextBlock("", pre)
}

func list(st slack.RichTextListElementType, items ...[]slack.RichTextSectionElement) slack.Block {
	sections := []slack.RichTextElement{}
	for _, runs := range items {
		sections = append(sections, slack.NewRichTextSection(runs...))
	}
	return slack.NewRichTextBlock("", slack.NewRichTextList(st, 0, sections...))
}

func TestBlocksFromMarkdown(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []slack.Block
	}{
		{
			name:  "sentence with inline elements",
			input: "This is a **bold** and _italic_ text.",
			want: []slack.Block{textBlock(
				plain("This is a "),
				styled("bold", style{Bold: true}),
				plain(" and "),
				styled("italic", style{Italic: true}),
				plain(" text."),
			)},
		},
		{
			name:  "bold",
			input: "**bold**",
			want:  []slack.Block{textBlock(styled("bold", style{Bold: true}))},
		},
		{
			name:  "italic",
			input: "_italic_",
			want:  []slack.Block{textBlock(styled("italic", style{Italic: true}))},
		},
		{
			name:  "strike",
			input: "~~strike~~",
			want:  []slack.Block{textBlock(styled("strike", style{Strike: true}))},
		},
		{
			name:  "inline code",
			input: "`inline code`",
			want:  []slack.Block{textBlock(styled("inline code", style{Code: true}))},
		},
		{
			name:  "multiple paragraphs",
			input: "Paragraph 1\n\nParagraph 2\n\nParagraph 3",
			want: []slack.Block{
				textBlock(plain("Paragraph 1")),
				textBlock(plain("Paragraph 2")),
				textBlock(plain("Paragraph 3")),
			},
		},
		{
			name:  "headings",
			input: "# Heading 1\n\n## Heading 2\n\n###### Heading 6",
			want:  []slack.Block{header("Heading 1"), header("Heading 2"), header("Heading 6")},
		},
		{
			name:  "heading with styled text",
			input: "# A **bold** heading",
			want:  []slack.Block{header("A bold heading")},
		},
		{
			name:  "long heading falls back to bold text",
			input: "# " + strings.Repeat("x", 151),
			want:  []slack.Block{textBlock(styled(strings.Repeat("x", 151), style{Bold: true}))},
		},
		{
			name:  "quote",
			input: "> A **bold** quote",
			want: []slack.Block{quoteBlock(
				styled("A ", style{}),
				styled("bold", style{Bold: true}),
				styled(" quote", style{}),
			)},
		},
		{
			name:  "nested inline elements",
			input: "**Bold `code`**",
			want: []slack.Block{textBlock(
				styled("Bold ", style{Bold: true}),
				styled("code", style{Bold: true, Code: true}),
			)},
		},
		{
			name:  "code block",
			input: "```\nconsole.log(\"Hello world\")\n```",
			want: []slack.Block{codeBlock(`console.log("Hello world")`)},
		},
		{
			name:  "ordered list",
			input: "1. One\n2. Two\n3. Three",
			want: []slack.Block{list(slack.RTEListOrdered,
				[]slack.RichTextSectionElement{styled("One", style{})},
				[]slack.RichTextSectionElement{styled("Two", style{})},
				[]slack.RichTextSectionElement{styled("Three", style{})},
			)},
		},
		{
			name:  "bullet list",
			input: "- One\n- Two\n- Three",
			want: []slack.Block{list(slack.RTEListBullet,
				[]slack.RichTextSectionElement{styled("One", style{})},
				[]slack.RichTextSectionElement{styled("Two", style{})},
				[]slack.RichTextSectionElement{styled("Three", style{})},
			)},
		},
		{
			name:  "text style in list",
			input: "- **Bold**",
			want:  []slack.Block{list(slack.RTEListBullet, []slack.RichTextSectionElement{styled("Bold", style{Bold: true})})},
		},
		{
			name:  "empty input",
			input: "",
			want:  []slack.Block{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BlocksFromMarkdown(tt.input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BlocksFromMarkdown() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
