package extract

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Markdown extracts markdown files section by section. Each H1/H2 section is
// emitted with its full header path on the first line, so a chunk cut from
// the middle of a long document still carries the section it belongs to.
type Markdown struct {
	parser goldmark.Markdown
}

// NewMarkdown creates the markdown extractor.
func NewMarkdown() *Markdown {
	return &Markdown{
		parser: goldmark.New(
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
	}
}

func (m *Markdown) Extensions() []string { return []string{".md", ".markdown"} }

// Extract flattens the document into header-annotated sections joined by
// blank lines. Documents without headers pass through whole.
func (m *Markdown) Extract(data []byte) (string, error) {
	reader := text.NewReader(data)
	doc := m.parser.Parser().Parse(reader)

	tree, err := toc.Inspect(doc, data,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return "", fmt.Errorf("inspect document structure: %w", err)
	}

	if len(tree.Items) == 0 {
		return strings.TrimSpace(string(data)), nil
	}

	var sections []string
	m.collect(doc, data, tree.Items, nil, &sections)
	return strings.Join(sections, "\n\n"), nil
}

// collect walks the section tree depth-first, rendering each section as
// "path / to / section" header line plus its body up to the next boundary.
func (m *Markdown) collect(doc ast.Node, source []byte, items toc.Items, ancestors []string, sections *[]string) {
	for i, item := range items {
		path := append(ancestors, string(item.Title))

		heading := headingByID(doc, string(item.ID))
		if heading == nil {
			continue
		}

		start := heading.Lines().At(0)
		var end text.Segment
		switch {
		case len(item.Items) > 0:
			// A parent section owns only its intro; everything after the
			// first child heading is emitted by the children themselves.
			if first := headingByID(doc, string(item.Items[0].ID)); first != nil {
				end = first.Lines().At(0)
			}
		case i+1 < len(items):
			if next := headingByID(doc, string(items[i+1].ID)); next != nil {
				end = next.Lines().At(0)
			}
		default:
			end = nextBoundary(doc, heading, heading.(*ast.Heading).Level)
		}

		body := sliceBetween(source, start, end)
		section := strings.Join(path, " / ")
		if body != "" {
			section += "\n" + body
		}
		*sections = append(*sections, section)

		if len(item.Items) > 0 {
			m.collect(doc, source, item.Items, path, sections)
		}
	}
}

// headingByID finds the heading node carrying an auto-generated id.
func headingByID(root ast.Node, id string) ast.Node {
	var found ast.Node
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		if attr, ok := n.AttributeString("id"); ok && string(attr.([]byte)) == id {
			found = n
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

// nextBoundary returns the first heading after current at the same or a
// shallower level, or the zero segment when the section runs to EOF.
func nextBoundary(root ast.Node, current ast.Node, level int) text.Segment {
	var (
		boundary    ast.Node
		pastCurrent bool
	)
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		if !pastCurrent {
			if n == current {
				pastCurrent = true
			}
			return ast.WalkContinue, nil
		}
		if n.(*ast.Heading).Level <= level {
			boundary = n
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	if boundary != nil {
		return boundary.Lines().At(0)
	}
	return text.Segment{}
}

// sliceBetween cuts the source text between two line segments, skipping the
// heading's own line. A zero end segment means EOF.
func sliceBetween(source []byte, start, end text.Segment) string {
	from := start.Stop
	if from > len(source) {
		from = len(source)
	}
	to := len(source)
	if end.Start != 0 || end.Stop != 0 {
		to = end.Start
	}
	if to < from {
		to = from
	}

	// end.Start points into the boundary heading's text, past its "#"
	// markers; back up to the start of that line.
	body := string(source[from:to])
	if idx := strings.LastIndexByte(body, '\n'); (end.Start != 0 || end.Stop != 0) && idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
