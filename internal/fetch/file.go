package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// maxAttachmentBytes caps how much of an attachment is read.
const maxAttachmentBytes = 512 * 1024

// ExtractFile reads a chat attachment and returns its text content for
// inclusion in the conversation. Markdown is flattened to plain text;
// other text files pass through. Binary files are rejected.
func ExtractFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("attachment: %w", err)
	}
	if info.Size() > maxAttachmentBytes {
		return "", fmt.Errorf("attachment: %s is too large (%d bytes)", filepath.Base(path), info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("attachment: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("attachment: %s is not a text file", filepath.Base(path))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return extractMarkdown(data), nil
	case ".html", ".htm":
		_, content := extractHTML(string(data))
		return content, nil
	default:
		return string(data), nil
	}
}

// extractMarkdown flattens markdown to plain text by walking the parsed
// AST and keeping only text and code content.
func extractMarkdown(src []byte) string {
	doc := goldmark.DefaultParser().Parse(gmtext.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
		case *ast.Paragraph, *ast.Heading, *ast.ListItem, *ast.Blockquote:
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})

	return cleanWhitespace(b.String())
}
