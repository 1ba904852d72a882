package mailer

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// ButtonNode is a call-to-action link rendered as an email-safe button.
type ButtonNode struct {
	ast.BaseInline
	URL   []byte
	Label []byte
	Color []byte
}

// KindButton is the node kind for ButtonNode.
var KindButton = ast.NewNodeKind("Button")

// Kind implements ast.Node.
func (n *ButtonNode) Kind() ast.NodeKind {
	return KindButton
}

// Dump implements ast.Node.
func (n *ButtonNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"URL":   string(n.URL),
		"Color": string(n.Color),
	}, nil)
}

const defaultButtonColor = "primary"

var buttonColors = map[string]struct{}{
	"primary": {},
	"success": {},
	"error":   {},
}

// buttonParser parses "[!button|Label](URL)" and "[!button:color|Label](URL)".
type buttonParser struct{}

// NewButtonParser creates a new button inline parser.
func NewButtonParser() parser.InlineParser {
	return &buttonParser{}
}

func (p *buttonParser) Trigger() []byte {
	return []byte{'['}
}

func (p *buttonParser) Parse(_ ast.Node, block text.Reader, _ parser.Context) ast.Node {
	line, _ := block.PeekLine()
	rest, ok := bytes.CutPrefix(line, []byte("[!button"))
	if !ok {
		return nil
	}

	color := []byte(defaultButtonColor)
	if after, hasColor := bytes.CutPrefix(rest, []byte(":")); hasColor {
		pipe := bytes.IndexByte(after, '|')
		if pipe <= 0 {
			return nil
		}
		if _, known := buttonColors[string(after[:pipe])]; !known {
			return nil
		}
		color = after[:pipe]
		rest = after[pipe:]
	}

	rest, ok = bytes.CutPrefix(rest, []byte("|"))
	if !ok {
		return nil
	}

	labelEnd := bytes.IndexByte(rest, ']')
	if labelEnd == -1 || labelEnd+1 >= len(rest) || rest[labelEnd+1] != '(' {
		return nil
	}
	label := rest[:labelEnd]

	urlPart := rest[labelEnd+2:]
	urlEnd := bytes.IndexByte(urlPart, ')')
	if urlEnd == -1 {
		return nil
	}

	consumed := len(line) - len(urlPart) + urlEnd + 1
	block.Advance(consumed)

	return &ButtonNode{
		URL:   urlPart[:urlEnd],
		Label: label,
		Color: color,
	}
}

// buttonRenderer renders ButtonNode as a table wrapped link, which survives most mail clients.
type buttonRenderer struct {
	html.Config
}

// NewButtonRenderer creates a new button node renderer.
func NewButtonRenderer(opts ...html.Option) renderer.NodeRenderer {
	r := &buttonRenderer{
		Config: html.NewConfig(),
	}
	for _, opt := range opts {
		opt.SetHTMLOption(&r.Config)
	}
	return r
}

func (r *buttonRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindButton, r.renderButton)
}

func (r *buttonRenderer) renderButton(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	n := node.(*ButtonNode)

	_, _ = w.WriteString(`<table class="action" role="presentation"><tr><td><a href="`)
	_, _ = w.Write(util.EscapeHTML(util.URLEscape(n.URL, false)))
	_, _ = w.WriteString(`" class="button button-`)
	_, _ = w.Write(n.Color)
	_, _ = w.WriteString(`" target="_blank" rel="noopener">`)
	_, _ = w.Write(util.EscapeHTML(n.Label))
	_, _ = w.WriteString(`</a></td></tr></table>`)

	return ast.WalkContinue, nil
}

// ButtonExtension is a goldmark extension for button links.
type ButtonExtension struct{}

// Extend implements goldmark.Extender.
func (e *ButtonExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithInlineParsers(
		util.Prioritized(NewButtonParser(), 50),
	))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(NewButtonRenderer(), 50),
	))
}

// NewButtonExtension creates a new button extension for goldmark.
func NewButtonExtension() goldmark.Extender {
	return &ButtonExtension{}
}
