package slack

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/russross/blackfriday/v2"
	"github.com/slack-go/slack"
)

// maxHeaderLength is the limit Slack enforces on header block text
const maxHeaderLength = 150

// run is a styled span of text before it becomes a rich text element
type run struct {
	text  string
	style *slack.RichTextSectionTextStyle
}

// BlocksFromMarkdown renders model output as Slack layout blocks. Headings
// become header blocks, paragraphs quotes code and lists become rich_text
// blocks, and anything else falls back to a plain_text section.
func BlocksFromMarkdown(input string) []slack.Block {
	md := blackfriday.New(blackfriday.WithExtensions(blackfriday.CommonExtensions))
	root := md.Parse([]byte(input))

	blocks := []slack.Block{}
	for n := root.FirstChild; n != nil; n = n.Next {
		blocks = append(blocks, rootBlock(n))
	}
	return blocks
}

func rootBlock(n *blackfriday.Node) slack.Block {
	switch n.Type {
	case blackfriday.Paragraph:
		return slack.NewRichTextBlock("", section(inlines(n, nil)))

	case blackfriday.Heading:
		s := plainText(n)
		if utf8.RuneCountInString(s) <= maxHeaderLength {
			return slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, s, false, false))
		}
		return slack.NewRichTextBlock("", section([]run{{text: s, style: &slack.RichTextSectionTextStyle{Bold: true}}}))

	case blackfriday.BlockQuote:
		var runs []run
		for c := n.FirstChild; c != nil; c = c.Next {
			runs = append(runs, blockInlines(c)...)
		}
		quote := slack.RichTextQuote(*section(runs))
		quote.Type = slack.RTEQuote
		return slack.NewRichTextBlock("", &quote)

	case blackfriday.CodeBlock:
		code := strings.TrimSuffix(string(n.Literal), "\n")
		pre := &slack.RichTextPreformatted{RichTextSection: *section([]run{{text: code}})}
		pre.Type = slack.RTEPreformatted
		return slack.NewRichTextBlock("", pre)

	case blackfriday.List:
		style := slack.RTEListBullet
		if n.ListFlags&blackfriday.ListTypeOrdered != 0 {
			style = slack.RTEListOrdered
		}
		items := []slack.RichTextElement{}
		for item := n.FirstChild; item != nil; item = item.Next {
			var runs []run
			for c := item.FirstChild; c != nil; c = c.Next {
				runs = append(runs, blockInlines(c)...)
			}
			items = append(items, section(runs))
		}
		return slack.NewRichTextBlock("", slack.NewRichTextList(style, 0, items...))
	}

	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.PlainTextType, plainText(n), false, false), nil, nil)
}

// section converts runs to a rich_text_section. Elements is never nil.
func section(runs []run) *slack.RichTextSection {
	elements := make([]slack.RichTextSectionElement, 0, len(runs))
	for _, r := range runs {
		elements = append(elements, slack.NewRichTextSectionTextElement(r.text, r.style))
	}
	return slack.NewRichTextSection(elements...)
}

// blockInlines flattens a block nested inside a quote or list item. Styles
// are always present on these runs, possibly empty.
func blockInlines(n *blackfriday.Node) []run {
	empty := &slack.RichTextSectionTextStyle{}
	if n.Type == blackfriday.Paragraph {
		return inlines(n, empty)
	}
	if isInline(n.Type) {
		return inline(n, empty)
	}
	return []run{{text: plainText(n), style: empty}}
}

func inlines(n *blackfriday.Node, style *slack.RichTextSectionTextStyle) []run {
	var out []run
	for c := n.FirstChild; c != nil; c = c.Next {
		out = appendRuns(out, inline(c, style)...)
	}
	return trimTrailingNewlines(out)
}

// list item paragraphs keep the line terminator of their source line
func trimTrailingNewlines(runs []run) []run {
	for len(runs) > 0 {
		last := &runs[len(runs)-1]
		last.text = strings.TrimRight(last.text, "\n")
		if last.text != "" {
			break
		}
		runs = runs[:len(runs)-1]
	}
	return runs
}

func inline(n *blackfriday.Node, style *slack.RichTextSectionTextStyle) []run {
	with := func(add slack.RichTextSectionTextStyle) *slack.RichTextSectionTextStyle {
		var base slack.RichTextSectionTextStyle
		if style != nil {
			base = *style
		}
		return &slack.RichTextSectionTextStyle{
			Bold:   base.Bold || add.Bold,
			Italic: base.Italic || add.Italic,
			Strike: base.Strike || add.Strike,
			Code:   base.Code || add.Code,
		}
	}

	switch n.Type {
	case blackfriday.Text:
		return []run{{text: string(n.Literal), style: style}}
	case blackfriday.Softbreak, blackfriday.Hardbreak:
		return []run{{text: "\n", style: style}}
	case blackfriday.Code:
		return []run{{text: string(n.Literal), style: with(slack.RichTextSectionTextStyle{Code: true})}}
	case blackfriday.Emph:
		return inlines(n, with(slack.RichTextSectionTextStyle{Italic: true}))
	case blackfriday.Strong:
		return inlines(n, with(slack.RichTextSectionTextStyle{Bold: true}))
	case blackfriday.Del:
		return inlines(n, with(slack.RichTextSectionTextStyle{Strike: true}))
	}
	return []run{{text: plainText(n), style: style}}
}

// appendRuns joins adjacent runs that share a style, since the parser may
// split plain text at characters it inspects for inline markup.
func appendRuns(out []run, runs ...run) []run {
	for _, r := range runs {
		if r.text == "" {
			continue
		}
		if last := len(out) - 1; last >= 0 && sameStyle(out[last].style, r.style) {
			out[last].text += r.text
			continue
		}
		out = append(out, r)
	}
	return out
}

func sameStyle(a, b *slack.RichTextSectionTextStyle) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func isInline(t blackfriday.NodeType) bool {
	switch t {
	case blackfriday.Text, blackfriday.Emph, blackfriday.Strong, blackfriday.Del,
		blackfriday.Code, blackfriday.Link, blackfriday.Image, blackfriday.HTMLSpan,
		blackfriday.Softbreak, blackfriday.Hardbreak:
		return true
	}
	return false
}

// plainText concatenates every literal below n
func plainText(n *blackfriday.Node) string {
	var buf bytes.Buffer
	n.Walk(func(c *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		if !entering {
			return blackfriday.GoToNext
		}
		switch c.Type {
		case blackfriday.Text, blackfriday.Code, blackfriday.CodeBlock, blackfriday.HTMLSpan, blackfriday.HTMLBlock:
			buf.Write(c.Literal)
		case blackfriday.Softbreak, blackfriday.Hardbreak:
			buf.WriteByte('\n')
		}
		return blackfriday.GoToNext
	})
	return buf.String()
}
