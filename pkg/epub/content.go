package epub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"
)

// blockTags produce a line break during text extraction so words from
// separate block elements never merge.
var blockTags = map[atom.Atom]bool{
	atom.P:          true,
	atom.Br:         true,
	atom.Div:        true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Li:         true,
	atom.Tr:         true,
	atom.Blockquote: true,
	atom.Hr:         true,
}

// skipTags have their content dropped entirely.
var skipTags = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
}

// ExtractText reads every document item of the book in reading order
// (spine first, unreferenced manifest documents after), strips markup and
// returns one normalized text blob with items joined by a newline.
//
// Items are processed concurrently under a bounded worker group; results
// are reassembled in original item order. A single unreadable or
// undecodable item is logged and skipped. Returns ErrNoContent when the
// manifest has no document items or every item failed or was empty.
func (a *Archive) ExtractText(ctx context.Context, workers int) (string, error) {
	items := a.documentItems()
	if len(items) == 0 {
		return "", ErrNoContent
	}
	if workers <= 0 {
		workers = 4
	}

	texts := make([]string, len(items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			text, err := a.extractItemText(item)
			if err != nil {
				slog.Warn("skipping document item", "href", item.Href, "err", err)
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return "", ErrNoContent
	}
	return strings.Join(parts, "\n"), nil
}

func (a *Archive) extractItemText(item opfManifestItem) (string, error) {
	path := a.ResolveHref(item.Href)
	if path == "" {
		return "", fmt.Errorf("unresolvable href %q", item.Href)
	}
	data, err := a.ReadEntry(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("item %s is not valid UTF-8", path)
	}
	text, err := stripHTML(data)
	if err != nil {
		return "", err
	}
	return text, nil
}

// stripHTML extracts plain text from XHTML data. Block elements emit a
// newline, inline text keeps its own spacing; script/style content is
// dropped.
func stripHTML(data []byte) (string, error) {
	tokenizer := html.NewTokenizer(bytes.NewReader(data))
	var buf strings.Builder
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			err := tokenizer.Err()
			if errors.Is(err, io.EOF) {
				return normalizeText(buf.String()), nil
			}
			return "", err
		case html.TextToken:
			if skipDepth == 0 {
				buf.Write(tokenizer.Text())
			}
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			a := atom.Lookup(tn)
			if skipTags[a] {
				skipDepth++
			} else if skipDepth == 0 && blockTags[a] {
				buf.WriteByte('\n')
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			a := atom.Lookup(tn)
			if skipTags[a] && skipDepth > 0 {
				skipDepth--
			} else if skipDepth == 0 && blockTags[a] {
				buf.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			tn, _ := tokenizer.TagName()
			if skipDepth == 0 && blockTags[atom.Lookup(tn)] {
				buf.WriteByte('\n')
			}
		}
	}
}

// normalizeText canonicalizes extracted text: BOM/zero-width/control
// characters dropped, NBSP and tabs to spaces, CRLF to LF, space runs
// collapsed, blank-line runs collapsed to one blank line, edges trimmed.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteRune('\n')
		case r == '\r':
			// dropped; \r\n keeps its \n
		case r == '\u00a0' || r == '\t':
			b.WriteRune(' ')
		case r == '\ufeff' || r == '\u00ad' || (r >= '\u200b' && r <= '\u200d') || r == '\u2060':
			// zero-width and soft hyphen: dropped
		case unicode.IsControl(r):
			// other control characters dropped
		default:
			b.WriteRune(r)
		}
	}

	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}

	var out strings.Builder
	out.Grow(len(s))
	blankRun := 0
	wrote := false
	for _, line := range lines {
		if line == "" {
			blankRun++
			continue
		}
		if wrote {
			if blankRun > 0 {
				out.WriteString("\n\n")
			} else {
				out.WriteString("\n")
			}
		}
		out.WriteString(line)
		wrote = true
		blankRun = 0
	}
	return out.String()
}
