package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeHeadings(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "h1 moves under title",
			in:   "# A\n\ntext\n\n## B\n\n### C",
			want: "## A\n\ntext\n\n### B\n\n#### C",
		},
		{
			name: "deep headings move up",
			in:   "### A\n\n#### B",
			want: "## A\n\n### B",
		},
		{
			name: "already based",
			in:   "## A\n\n### B",
			want: "## A\n\n### B",
		},
		{
			name: "setext becomes atx",
			in:   "Title\n=====\n\nSub\n---\n\nbody",
			want: "## Title\n\n### Sub\n\nbody",
		},
		{
			name: "clamped at six",
			in:   "# A\n\n###### F",
			want: "## A\n\n###### F",
		},
		{
			name: "no headings",
			in:   "just text",
			want: "just text",
		},
	}
	p := NewPostprocessor()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, p.Normalize(tc.in, ""))
		})
	}
}

func TestNormalizeLeavesCodeBlocksAlone(t *testing.T) {
	t.Parallel()

	in := "# A\n\n```\n# not heading\n[x](rel)\n| a |\n|---|\n```\n"
	want := "## A\n\n```\n# not heading\n[x](rel)\n| a |\n|---|\n```\n"
	require.Equal(t, want, NewPostprocessor().Normalize(in, "https://example.com/docs/"))
}

func TestNormalizeLinks(t *testing.T) {
	t.Parallel()

	base := "https://example.com/docs/page"
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "relative link",
			in:   "see [a](other) now",
			want: "see [a](https://example.com/docs/other) now",
		},
		{
			name: "root relative image",
			in:   "![img](/img/x.png)",
			want: "![img](https://example.com/img/x.png)",
		},
		{
			name: "absolute untouched",
			in:   "[b](https://x.org/p) [m](mailto:a@b.c)",
			want: "[b](https://x.org/p) [m](mailto:a@b.c)",
		},
		{
			name: "fragment untouched",
			in:   "[c](#frag)",
			want: "[c](#frag)",
		},
		{
			name: "title preserved",
			in:   `[t](guide.html "Guide")`,
			want: `[t](https://example.com/docs/guide.html "Guide")`,
		},
		{
			name: "image inside link",
			in:   "[![logo](logo.png)](home)",
			want: "[![logo](https://example.com/docs/logo.png)](https://example.com/docs/home)",
		},
		{
			name: "inline code untouched",
			in:   "`[d](code)` and [e](real)",
			want: "`[d](code)` and [e](https://example.com/docs/real)",
		},
		{
			name: "reference definition",
			in:   "[ref]: ../up.html",
			want: "[ref]: https://example.com/up.html",
		},
	}
	p := NewPostprocessor()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, p.Normalize(tc.in, base))
		})
	}
}

func TestNormalizeWithoutBaseKeepsLinks(t *testing.T) {
	t.Parallel()

	require.Equal(t, "[a](other)", NewPostprocessor().Normalize("[a](other)", "not a url"))
}

func TestNormalizePadsTables(t *testing.T) {
	t.Parallel()

	in := "intro\n\n| a | b |\n|---|:-:|\n| 1 |\n| 2 | 3 | 4 |\n\nafter"
	want := "intro\n\n" +
		"| a | b |  |\n" +
		"| --- | :---: | --- |\n" +
		"| 1 |  |  |\n" +
		"| 2 | 3 | 4 |\n" +
		"\nafter"
	p := NewPostprocessor()
	got := p.Normalize(in, "")
	require.Equal(t, want, got)
	require.Equal(t, got, p.Normalize(got, ""))
}

func TestNormalizeKeepsTableIndentInsideLists(t *testing.T) {
	t.Parallel()

	in := "- item\n\n  | a | b |\n  |---|---|\n  | 1 | 2 |\n- next"
	want := "- item\n\n" +
		"  | a | b |\n" +
		"  | --- | --- |\n" +
		"  | 1 | 2 |\n" +
		"- next"
	p := NewPostprocessor()
	got := p.Normalize(in, "")
	require.Equal(t, want, got)
	require.Equal(t, got, p.Normalize(got, ""))
}

func TestNormalizeTableIsIdempotent(t *testing.T) {
	t.Parallel()

	table := Table{Rows: [][]Cell{
		{{Text: "Name", ColSpan: 2}, {Text: "Notes"}},
		{{Text: "a", RowSpan: 2}, {Text: "x|y"}, {Text: "[l](rel)"}},
		{{Text: "b"}},
	}}
	rendered := RenderTable(table)
	p := NewPostprocessor()
	once := p.Normalize(rendered, "")
	twice := p.Normalize(once, "")
	require.Equal(t, rendered, once)
	require.Equal(t, once, twice)

	width := -1
	for _, row := range strings.Split(once, "\n") {
		cells := splitRow(row)
		if width < 0 {
			width = len(cells)
		}
		require.Len(t, cells, width)
	}
}

func TestRenderTableExpandsSpans(t *testing.T) {
	t.Parallel()

	table := Table{Rows: [][]Cell{
		{{Text: "H1", ColSpan: 2}, {Text: "H3"}},
		{{Text: "a", RowSpan: 2}, {Text: "b"}, {Text: "c"}},
		{{Text: "d"}, {Text: "e"}},
	}}
	want := "| H1 | H1 | H3 |\n" +
		"| --- | --- | --- |\n" +
		"| a | b | c |\n" +
		"| a | d | e |"
	require.Equal(t, want, RenderTable(table))
}

func TestRenderTableEscapesAndFlattens(t *testing.T) {
	t.Parallel()

	table := Table{Rows: [][]Cell{
		{{Text: "k"}, {Text: "v"}},
		{{Text: "x|y"}, {Text: "multi\nline"}},
	}}
	require.Equal(t, "| k | v |\n| --- | --- |\n| x\\|y | multi line |", RenderTable(table))
}

func TestRenderTableEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, RenderTable(Table{}))
	require.Empty(t, RenderTable(Table{Rows: [][]Cell{{}}}))
}

func TestGridClipsRowSpanAtTableEnd(t *testing.T) {
	t.Parallel()

	grid := Table{Rows: [][]Cell{
		{{Text: "a", RowSpan: 5}, {Text: "b"}},
		{{Text: "c"}},
	}}.Grid()
	require.Equal(t, [][]string{{"a", "b"}, {"a", "c"}}, grid)
}
