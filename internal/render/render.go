/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package render turns message bodies into HTML for the browser and into
// highlighted text for the terminal. Fenced code is highlighted with chroma.
package render

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"

	"dialogview/internal/dialog"
	applog "dialogview/internal/log"
)

// Renderer converts markdown to HTML. It is safe for concurrent use.
type Renderer struct {
	md    goldmark.Markdown
	style *chroma.Style
	html  *chromahtml.Formatter
}

// New returns a renderer highlighting code with the named chroma style.
// Unknown styles fall back to chroma's default.
func New(styleName string) *Renderer {
	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}
	f := chromahtml.New(chromahtml.WithClasses(true))
	r := &Renderer{style: style, html: f}
	r.md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			renderer.WithNodeRenderers(util.Prioritized(&codeBlockRenderer{r: r}, 200)),
		),
	)
	return r
}

// Markdown renders one message body.
func (r *Renderer) Markdown(body string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// WriteCSS writes the stylesheet for the highlighted code classes.
func (r *Renderer) WriteCSS(w io.Writer) error {
	return r.html.WriteCSS(w, r.style)
}

// Messages renders every message body of c, keyed by message ordinal.
// A body that fails to render is shown escaped inside <pre>.
func (r *Renderer) Messages(c *dialog.Conversation) []string {
	l := applog.WithOperation(applog.WithComponent("render"), "messages")
	out := make([]string, len(c.Messages))
	for i, m := range c.Messages {
		h, err := r.Markdown(m.Body)
		if err != nil {
			l.Warn("falling back to plain text", "ordinal", m.Ordinal, "err", err)
			h = "<pre>" + html.EscapeString(m.Body) + "</pre>"
		}
		out[i] = h
	}
	return out
}

// codeBlockRenderer replaces goldmark's fenced code output with chroma HTML.
type codeBlockRenderer struct {
	r *Renderer
}

func (c *codeBlockRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, c.renderFencedCode)
}

func (c *codeBlockRenderer) renderFencedCode(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)
	var code strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		code.Write(seg.Value(source))
	}
	lang := ""
	if n.Info != nil {
		lang = string(n.Language(source))
	}
	it, err := lexerFor(lang, code.String()).Tokenise(nil, code.String())
	if err == nil {
		err = c.r.html.Format(w, c.r.style, it)
	}
	if err != nil {
		_, _ = w.WriteString("<pre><code>" + html.EscapeString(code.String()) + "</code></pre>\n")
	}
	return ast.WalkSkipChildren, nil
}

func lexerFor(lang, code string) chroma.Lexer {
	var lexer chroma.Lexer
	if lang != "" {
		lexer = lexers.Get(lang)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}

// Terminal returns body with every fenced block highlighted for a true color
// terminal. Prose lines are returned unchanged; fence lines are dropped.
func Terminal(body, styleName string) string {
	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}
	formatter := formatters.Get("terminal16m")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	var out, code strings.Builder
	inCode, lang := false, ""
	flush := func() {
		src := code.String()
		code.Reset()
		it, err := lexerFor(lang, src).Tokenise(nil, src)
		if err == nil {
			var buf strings.Builder
			if err = formatter.Format(&buf, style, it); err == nil {
				out.WriteString(buf.String())
				return
			}
		}
		out.WriteString(src)
	}
	for _, line := range strings.Split(body, "\n") {
		trim := strings.TrimSpace(line)
		if dialog.IsFence(trim) {
			if inCode {
				flush()
			} else {
				lang = strings.TrimSpace(strings.TrimLeft(trim, "`~"))
			}
			inCode = !inCode
			continue
		}
		if inCode {
			code.WriteString(line + "\n")
			continue
		}
		out.WriteString(line + "\n")
	}
	if inCode {
		flush()
	}
	return strings.TrimRight(out.String(), "\n")
}
