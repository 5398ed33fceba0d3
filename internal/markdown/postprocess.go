// Package markdown normalizes converted page bodies: heading levels are
// re-based under the page title, pipe tables are re-rendered with equal
// column counts, and relative link and image targets are made absolute.
package markdown

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// TopHeadingLevel is the level the shallowest body heading is moved to; level
// 1 belongs to the page title.
const TopHeadingLevel = 2

// Postprocessor implements crawler.Normalizer.
type Postprocessor struct {
	md goldmark.Markdown
}

// NewPostprocessor returns a Postprocessor using a CommonMark parser.
func NewPostprocessor() *Postprocessor {
	return &Postprocessor{md: goldmark.New()}
}

type heading struct {
	level int
	// underline is the setext underline line index, or -1 for ATX headings.
	underline int
}

type layout struct {
	code     map[int]bool
	headings map[int]heading
	minLevel int
}

var atxPattern = regexp.MustCompile(`^ {0,3}(#{1,6})(\s.*|)$`)

// Normalize rewrites headings, tables and links outside code. Bodies without
// any of those come back unchanged apart from CRLF line endings.
func (p *Postprocessor) Normalize(body, baseURL string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if strings.TrimSpace(body) == "" {
		return body
	}
	lines := strings.Split(body, "\n")
	info := p.scan(body, lines)
	shift := 0
	if info.minLevel > 0 {
		shift = TopHeadingLevel - info.minLevel
	}
	base := parseBase(baseURL)

	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if info.code[i] {
			out = append(out, line)
			continue
		}
		if h, ok := info.headings[i]; ok {
			level := min(max(h.level+shift, 1), 6)
			if h.underline < 0 {
				m := atxPattern.FindStringSubmatch(line)
				line = strings.Repeat("#", level) + m[2]
			} else {
				parts := make([]string, 0, h.underline-i)
				for j := i; j < h.underline; j++ {
					parts = append(parts, strings.TrimSpace(lines[j]))
				}
				line = strings.Repeat("#", level) + " " + strings.Join(parts, " ")
				i = h.underline
			}
			out = append(out, rewriteLinks(line, base))
			continue
		}
		if end := tableEnd(lines, info.code, i); end > i {
			indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
			rendered := RenderTable(parsePipeTable(lines[i:end]))
			for _, row := range strings.Split(rendered, "\n") {
				out = append(out, indent+rewriteLinks(row, base))
			}
			i = end - 1
			continue
		}
		out = append(out, rewriteLinks(line, base))
	}
	return strings.Join(out, "\n")
}

// scan uses the goldmark AST to find code lines and top-level headings.
func (p *Postprocessor) scan(body string, lines []string) layout {
	src := []byte(body)
	starts := make([]int, len(lines))
	offset := 0
	for i, line := range lines {
		starts[i] = offset
		offset += len(line) + 1
	}
	lineOf := func(pos int) int {
		return sort.Search(len(starts), func(i int) bool { return starts[i] > pos }) - 1
	}

	info := layout{code: map[int]bool{}, headings: map[int]heading{}}
	doc := p.md.Parser().Parse(text.NewReader(src))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			segs := n.Lines()
			for j := 0; j < segs.Len(); j++ {
				info.code[lineOf(segs.At(j).Start)] = true
			}
			if _, ok := node.(*ast.FencedCodeBlock); ok && segs.Len() > 0 {
				first := lineOf(segs.At(0).Start)
				last := lineOf(segs.At(segs.Len() - 1).Start)
				if first > 0 {
					info.code[first-1] = true
				}
				if last+1 < len(lines) && isFence(lines[last+1]) {
					info.code[last+1] = true
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.Heading:
			if n.Parent() != doc || n.Lines().Len() == 0 {
				return ast.WalkContinue, nil
			}
			segs := n.Lines()
			first := lineOf(segs.At(0).Start)
			h := heading{level: node.Level, underline: -1}
			if !atxPattern.MatchString(lines[first]) {
				h.underline = lineOf(segs.At(segs.Len()-1).Start) + 1
				if h.underline >= len(lines) {
					return ast.WalkContinue, nil
				}
			}
			info.headings[first] = h
			if info.minLevel == 0 || node.Level < info.minLevel {
				info.minLevel = node.Level
			}
		}
		return ast.WalkContinue, nil
	})
	return info
}

func isFence(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// tableEnd returns the index after the pipe table starting at i, or i when
// no table starts there.
func tableEnd(lines []string, code map[int]bool, i int) int {
	if i+1 >= len(lines) || code[i] || code[i+1] {
		return i
	}
	if !strings.HasPrefix(strings.TrimSpace(lines[i]), "|") {
		return i
	}
	if _, ok := parseDelimiter(lines[i+1]); !ok {
		return i
	}
	end := i + 2
	for end < len(lines) && !code[end] && strings.HasPrefix(strings.TrimSpace(lines[end]), "|") {
		end++
	}
	return end
}

func parseBase(raw string) *url.URL {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return nil
	}
	return u
}

var (
	inlineTarget = regexp.MustCompile(`\]\(\s*(<[^>\n]*>|[^\s()]+(?:\([^\s()]*\)[^\s()]*)*)`)
	refTarget    = regexp.MustCompile(`^(\s{0,3}\[[^\]]+\]:\s*)(<[^>]*>|\S+)(.*)$`)
)

// rewriteLinks makes link and image destinations absolute, skipping inline
// code spans.
func rewriteLinks(line string, base *url.URL) string {
	if base == nil {
		return line
	}
	if m := refTarget.FindStringSubmatch(line); m != nil {
		return m[1] + absolute(m[2], base) + m[3]
	}
	if !strings.Contains(line, "](") {
		return line
	}
	return outsideCode(line, func(s string) string {
		idx := inlineTarget.FindAllStringSubmatchIndex(s, -1)
		if idx == nil {
			return s
		}
		var b strings.Builder
		last := 0
		for _, m := range idx {
			b.WriteString(s[last:m[2]])
			b.WriteString(absolute(s[m[2]:m[3]], base))
			last = m[3]
		}
		b.WriteString(s[last:])
		return b.String()
	})
}

// absolute resolves a relative destination against base; absolute URLs,
// fragment-only anchors and unparsable targets are returned unchanged.
func absolute(dest string, base *url.URL) string {
	wrapped := strings.HasPrefix(dest, "<") && strings.HasSuffix(dest, ">")
	raw := strings.TrimSuffix(strings.TrimPrefix(dest, "<"), ">")
	if raw == "" || strings.HasPrefix(raw, "#") {
		return dest
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" {
		return dest
	}
	resolved := base.ResolveReference(u).String()
	if wrapped {
		return "<" + resolved + ">"
	}
	return resolved
}

// outsideCode applies fn to the parts of line that are not inside backtick
// code spans.
func outsideCode(line string, fn func(string) string) string {
	var b strings.Builder
	for {
		i := strings.IndexByte(line, '`')
		if i < 0 {
			b.WriteString(fn(line))
			return b.String()
		}
		b.WriteString(fn(line[:i]))
		j := i
		for j < len(line) && line[j] == '`' {
			j++
		}
		fence := line[i:j]
		k := strings.Index(line[j:], fence)
		if k < 0 {
			b.WriteString(fence)
			line = line[j:]
			continue
		}
		end := j + k + len(fence)
		b.WriteString(line[i:end])
		line = line[end:]
	}
}
