package extract

import (
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/markdown-crawler/internal/markdown"
)

// converter turns HTML fragments into GitHub flavored markdown.
type converter struct {
	conv *md.Converter
}

func newConverter() *converter {
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	conv.AddRules(md.Rule{
		Filter:      []string{"table"},
		Replacement: tableReplacement,
	})
	return &converter{conv: conv}
}

// toMarkdown returns the trimmed markdown for html, or "" when the fragment
// is blank or cannot be parsed.
func (c *converter) toMarkdown(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	out, err := c.conv.ConvertString(html)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// tableReplacement rebuilds a table from its cells so merged cells survive
// the conversion.
func tableReplacement(_ string, selec *goquery.Selection, _ *md.Options) *string {
	rendered := markdown.RenderTable(buildTable(selec))
	if rendered == "" {
		return md.String("")
	}
	return md.String("\n\n" + rendered + "\n\n")
}

func buildTable(table *goquery.Selection) markdown.Table {
	var t markdown.Table
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if !tr.Closest("table").IsSelection(table) {
			return
		}
		var row []markdown.Cell
		tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			row = append(row, markdown.Cell{
				Text:    inlineText(cell),
				ColSpan: spanAttr(cell, "colspan"),
				RowSpan: spanAttr(cell, "rowspan"),
			})
		})
		if len(row) == 0 {
			return
		}
		if len(t.Rows) == 0 {
			t.Align = alignments(tr)
		}
		t.Rows = append(t.Rows, row)
	})
	return t
}

func spanAttr(cell *goquery.Selection, name string) int {
	raw, ok := cell.Attr(name)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func alignments(header *goquery.Selection) []markdown.Alignment {
	var out []markdown.Alignment
	header.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
		align := markdown.AlignNone
		value := strings.ToLower(cell.AttrOr("align", ""))
		if style := strings.ToLower(cell.AttrOr("style", "")); strings.Contains(style, "text-align") {
			for _, a := range []string{"left", "center", "right"} {
				if strings.Contains(style, "text-align:"+a) || strings.Contains(style, "text-align: "+a) {
					value = a
				}
			}
		}
		switch value {
		case "left":
			align = markdown.AlignLeft
		case "center":
			align = markdown.AlignCenter
		case "right":
			align = markdown.AlignRight
		}
		for i := 0; i < spanAttr(cell, "colspan"); i++ {
			out = append(out, align)
		}
	})
	return out
}

// inlineText renders the inline content of a cell. Block structure is
// flattened because pipe table cells are single lines.
func inlineText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, node *goquery.Selection) {
		switch goquery.NodeName(node) {
		case "#text":
			b.WriteString(node.Text())
		case "br", "p", "div", "li":
			b.WriteString(" ")
			b.WriteString(inlineText(node))
			b.WriteString(" ")
		case "a":
			text := strings.TrimSpace(inlineText(node))
			href, ok := node.Attr("href")
			if !ok || href == "" || text == "" {
				b.WriteString(text)
				return
			}
			b.WriteString("[" + text + "](" + href + ")")
		case "img":
			src := node.AttrOr("src", "")
			if src != "" {
				b.WriteString("![" + node.AttrOr("alt", "") + "](" + src + ")")
			}
		case "strong", "b":
			wrapInline(&b, inlineText(node), "**")
		case "em", "i":
			wrapInline(&b, inlineText(node), "_")
		case "code":
			wrapInline(&b, node.Text(), "`")
		case "script", "style":
		default:
			b.WriteString(inlineText(node))
		}
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

func wrapInline(b *strings.Builder, text, marker string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.WriteString(marker + text + marker)
}
