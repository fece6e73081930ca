package heuristic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/contextractor/internal/extraction"
)

// result is the extracted page handed to the renderers.
type result struct {
	meta     pageMeta
	blocks   []block
	comments []block
	opts     extraction.Options
}

func (r result) metadataHeader() string {
	var b strings.Builder
	b.WriteString("---\n")
	for _, kv := range [][2]string{
		{"title", r.meta.Title},
		{"author", r.meta.Author},
		{"url", r.meta.URL},
		{"hostname", r.meta.Hostname},
		{"description", r.meta.Description},
		{"sitename", r.meta.SiteName},
		{"date", r.meta.Date},
		{"categories", strings.Join(r.meta.Categories, ", ")},
		{"tags", strings.Join(r.meta.Tags, ", ")},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, "%s: %s\n", kv[0], kv[1])
		}
	}
	b.WriteString("---\n")
	return b.String()
}

func plainLines(blocks []block) []string {
	var lines []string
	for _, blk := range blocks {
		switch blk.kind {
		case blockList:
			for _, item := range blk.items {
				lines = append(lines, "- "+spansText(item))
			}
		case blockTable:
			for _, row := range blk.rows {
				lines = append(lines, strings.Join(row, " | "))
			}
		case blockImage:
			continue
		default:
			if t := blk.text(); t != "" {
				lines = append(lines, t)
			}
		}
	}
	return lines
}

func (r result) bodyText() string {
	return strings.Join(plainLines(r.blocks), "\n")
}

func (r result) commentsText() string {
	return strings.Join(plainLines(r.comments), "\n")
}

func (r result) renderText() string {
	var b strings.Builder
	if r.opts.WithMetadata {
		b.WriteString(r.metadataHeader())
	}
	b.WriteString(r.bodyText())
	if c := r.commentsText(); c != "" {
		b.WriteString("\n\n")
		b.WriteString(c)
	}
	return b.String()
}

func (r result) renderMarkdown() string {
	var parts []string
	for _, blk := range r.blocks {
		if md := r.markdownBlock(blk); md != "" {
			parts = append(parts, md)
		}
	}
	body := strings.Join(parts, "\n\n")

	var b strings.Builder
	if r.opts.WithMetadata {
		b.WriteString(r.metadataHeader())
		b.WriteString("\n")
	}
	b.WriteString(body)
	if len(r.comments) > 0 {
		var comments []string
		for _, blk := range r.comments {
			if md := r.markdownBlock(blk); md != "" {
				comments = append(comments, md)
			}
		}
		if len(comments) > 0 {
			b.WriteString("\n\n")
			b.WriteString(strings.Join(comments, "\n\n"))
		}
	}
	return b.String()
}

func (r result) markdownBlock(blk block) string {
	switch blk.kind {
	case blockHeading:
		return strings.Repeat("#", blk.level) + " " + r.markdownInline(blk.spans)
	case blockParagraph:
		return r.markdownInline(blk.spans)
	case blockQuote:
		return "> " + r.markdownInline(blk.spans)
	case blockList:
		lines := make([]string, 0, len(blk.items))
		for i, item := range blk.items {
			marker := "-"
			if blk.ordered {
				marker = fmt.Sprintf("%d.", i+1)
			}
			lines = append(lines, marker+" "+r.markdownInline(item))
		}
		return strings.Join(lines, "\n")
	case blockCode:
		return "```\n" + blk.code + "\n```"
	case blockTable:
		return markdownTable(blk.rows)
	case blockImage:
		return fmt.Sprintf("![%s](%s)", blk.alt, blk.src)
	default:
		return ""
	}
}

func (r result) markdownInline(spans []span) string {
	var b strings.Builder
	for _, s := range spans {
		text := s.text
		core := strings.TrimSpace(text)
		if core == "" {
			b.WriteString(text)
			continue
		}
		lead := text[:strings.Index(text, core)]
		trail := text[len(lead)+len(core):]
		if r.opts.IncludeFormatting {
			switch {
			case s.bold && s.italic:
				core = "***" + core + "***"
			case s.bold:
				core = "**" + core + "**"
			case s.italic:
				core = "*" + core + "*"
			}
		}
		if r.opts.IncludeLinks && s.href != "" {
			core = "[" + core + "](" + s.href + ")"
		}
		b.WriteString(lead)
		b.WriteString(core)
		b.WriteString(trail)
	}
	return b.String()
}

func markdownTable(rows [][]string) string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	line := func(cells []string) string {
		padded := make([]string, width)
		for i := range padded {
			if i < len(cells) {
				padded[i] = strings.ReplaceAll(cells[i], "|", `\|`)
			}
		}
		return "| " + strings.Join(padded, " | ") + " |"
	}
	lines := []string{line(rows[0])}
	sep := make([]string, width)
	for i := range sep {
		sep[i] = "---"
	}
	lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
	for _, row := range rows[1:] {
		lines = append(lines, line(row))
	}
	return strings.Join(lines, "\n")
}

type jsonDocument struct {
	Title          string   `json:"title"`
	Author         string   `json:"author"`
	Hostname       string   `json:"hostname"`
	Date           string   `json:"date"`
	Description    string   `json:"description"`
	SiteName       string   `json:"sitename"`
	Source         string   `json:"source"`
	SourceHostname string   `json:"source-hostname"`
	Language       string   `json:"language"`
	Image          string   `json:"image"`
	Categories     []string `json:"categories"`
	Tags           []string `json:"tags"`
	Text           string   `json:"text"`
	Comments       string   `json:"comments"`
}

func (r result) renderJSON() (string, error) {
	doc := jsonDocument{
		Text:     r.bodyText(),
		Comments: r.commentsText(),
	}
	if r.opts.WithMetadata {
		doc.Title = r.meta.Title
		doc.Author = r.meta.Author
		doc.Hostname = r.meta.Hostname
		doc.Date = r.meta.Date
		doc.Description = r.meta.Description
		doc.SiteName = r.meta.SiteName
		doc.Source = r.meta.URL
		doc.SourceHostname = r.meta.SiteName
		doc.Language = r.meta.Language
		doc.Image = r.meta.Image
		doc.Categories = r.meta.Categories
		doc.Tags = r.meta.Tags
	}
	if doc.Categories == nil {
		doc.Categories = []string{}
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode json document: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
