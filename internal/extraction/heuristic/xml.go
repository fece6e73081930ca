package heuristic

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

const teiNamespace = "http://www.tei-c.org/ns/1.0"

// xmlWriter wraps an encoder and remembers the first error.
type xmlWriter struct {
	enc *xml.Encoder
	err error
}

func newXMLWriter(buf *bytes.Buffer) *xmlWriter {
	return &xmlWriter{enc: xml.NewEncoder(buf)}
}

func (w *xmlWriter) start(name string, attrs ...string) {
	if w.err != nil {
		return
	}
	el := xml.StartElement{Name: xml.Name{Local: name}}
	for i := 0; i+1 < len(attrs); i += 2 {
		if attrs[i+1] == "" {
			continue
		}
		el.Attr = append(el.Attr, xml.Attr{Name: xml.Name{Local: attrs[i]}, Value: attrs[i+1]})
	}
	w.err = w.enc.EncodeToken(el)
}

func (w *xmlWriter) end(name string) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
}

func (w *xmlWriter) text(s string) {
	if w.err != nil || s == "" {
		return
	}
	w.err = w.enc.EncodeToken(xml.CharData(s))
}

func (w *xmlWriter) element(name, content string, attrs ...string) {
	w.start(name, attrs...)
	w.text(content)
	w.end(name)
}

func (w *xmlWriter) newline() {
	w.text("\n")
}

func (w *xmlWriter) flush() error {
	if w.err != nil {
		return w.err
	}
	return w.enc.Flush()
}

// vocabulary names the elements used for each block kind.
type vocabulary struct {
	code string
	tei  bool
}

func (r result) writeInline(w *xmlWriter, spans []span) {
	for _, s := range spans {
		open := 0
		if r.opts.IncludeLinks && s.href != "" {
			w.start("ref", "target", s.href)
			open |= 1
		}
		if r.opts.IncludeFormatting && s.bold {
			w.start("hi", "rend", "#b")
			open |= 2
		}
		if r.opts.IncludeFormatting && s.italic {
			w.start("hi", "rend", "#i")
			open |= 4
		}
		w.text(s.text)
		if open&4 != 0 {
			w.end("hi")
		}
		if open&2 != 0 {
			w.end("hi")
		}
		if open&1 != 0 {
			w.end("ref")
		}
	}
}

func (r result) writeBlocks(w *xmlWriter, blocks []block, vocab vocabulary) {
	for _, blk := range blocks {
		switch blk.kind {
		case blockHeading:
			w.start("head", "rend", fmt.Sprintf("h%d", blk.level))
			r.writeInline(w, blk.spans)
			w.end("head")
		case blockParagraph:
			w.start("p")
			r.writeInline(w, blk.spans)
			w.end("p")
		case blockQuote:
			w.start("quote")
			r.writeInline(w, blk.spans)
			w.end("quote")
		case blockList:
			rend := "ul"
			if blk.ordered {
				rend = "ol"
			}
			w.start("list", "rend", rend)
			for _, item := range blk.items {
				w.start("item")
				r.writeInline(w, item)
				w.end("item")
			}
			w.end("list")
		case blockCode:
			if vocab.tei {
				w.element("ab", blk.code, "type", "code")
			} else {
				w.element(vocab.code, blk.code)
			}
		case blockTable:
			w.start("table")
			for i, row := range blk.rows {
				w.start("row")
				for _, cell := range row {
					if i == 0 {
						w.element("cell", cell, "role", "head")
					} else {
						w.element("cell", cell)
					}
				}
				w.end("row")
			}
			w.end("table")
		case blockImage:
			if vocab.tei {
				w.start("figure")
				w.start("graphic", "url", blk.src)
				w.end("graphic")
				if blk.alt != "" {
					w.element("figDesc", blk.alt)
				}
				w.end("figure")
			} else {
				w.start("graphic", "src", blk.src, "alt", blk.alt)
				w.end("graphic")
			}
		}
		w.newline()
	}
}

func (r result) renderXML() (string, error) {
	var buf bytes.Buffer
	w := newXMLWriter(&buf)

	var attrs []string
	if r.opts.WithMetadata {
		attrs = []string{
			"sitename", r.meta.SiteName,
			"title", r.meta.Title,
			"author", r.meta.Author,
			"date", r.meta.Date,
			"url", r.meta.URL,
			"hostname", r.meta.Hostname,
			"description", r.meta.Description,
			"categories", strings.Join(r.meta.Categories, ";"),
			"tags", strings.Join(r.meta.Tags, ";"),
		}
	}
	w.start("doc", attrs...)
	w.newline()
	w.start("main")
	w.newline()
	r.writeBlocks(w, r.blocks, vocabulary{code: "code"})
	w.end("main")
	w.newline()
	if len(r.comments) > 0 {
		w.start("comments")
		w.newline()
		r.writeBlocks(w, r.comments, vocabulary{code: "code"})
		w.end("comments")
		w.newline()
	}
	w.end("doc")
	if err := w.flush(); err != nil {
		return "", fmt.Errorf("encode xml document: %w", err)
	}
	return buf.String(), nil
}

func (r result) renderTEI() (string, error) {
	var buf bytes.Buffer
	w := newXMLWriter(&buf)

	w.start("TEI", "xmlns", teiNamespace)
	w.newline()
	w.start("teiHeader")
	w.start("fileDesc")

	w.start("titleStmt")
	w.element("title", r.meta.Title, "type", "main")
	if r.meta.Author != "" {
		w.element("author", r.meta.Author)
	}
	w.end("titleStmt")

	w.start("publicationStmt")
	if r.meta.SiteName != "" {
		w.element("publisher", r.meta.SiteName)
	} else {
		w.element("p", "")
	}
	w.end("publicationStmt")

	if r.meta.Description != "" {
		w.start("notesStmt")
		w.element("note", r.meta.Description, "type", "summary")
		w.end("notesStmt")
	}

	w.start("sourceDesc")
	w.start("bibl")
	w.text(strings.Join(nonEmpty(r.meta.Title, r.meta.Author, r.meta.SiteName, r.meta.Date), ", "))
	w.end("bibl")
	if r.meta.URL != "" {
		w.start("ptr", "type", "URL", "target", r.meta.URL)
		w.end("ptr")
	}
	w.end("sourceDesc")
	w.end("fileDesc")

	if r.meta.Language != "" || len(r.meta.Tags) > 0 {
		w.start("profileDesc")
		if r.meta.Language != "" {
			w.start("langUsage")
			w.element("language", r.meta.Language, "ident", r.meta.Language)
			w.end("langUsage")
		}
		if len(r.meta.Tags) > 0 {
			w.start("textClass")
			w.start("keywords")
			for _, tag := range r.meta.Tags {
				w.element("term", tag)
			}
			w.end("keywords")
			w.end("textClass")
		}
		w.end("profileDesc")
	}
	w.end("teiHeader")
	w.newline()

	w.start("text")
	w.start("body")
	w.newline()
	w.start("div", "type", "entry")
	w.newline()
	r.writeBlocks(w, r.blocks, vocabulary{tei: true})
	w.end("div")
	w.newline()
	if len(r.comments) > 0 {
		w.start("div", "type", "comments")
		w.newline()
		r.writeBlocks(w, r.comments, vocabulary{tei: true})
		w.end("div")
		w.newline()
	}
	w.end("body")
	w.end("text")
	w.newline()
	w.end("TEI")
	if err := w.flush(); err != nil {
		return "", fmt.Errorf("encode tei document: %w", err)
	}
	return buf.String(), nil
}

// teiRequired lists the paths a TEI document must contain.
var teiRequired = []string{
	"/*[local-name()='TEI']/*[local-name()='teiHeader']/*[local-name()='fileDesc']/*[local-name()='titleStmt']/*[local-name()='title']",
	"/*[local-name()='TEI']/*[local-name()='teiHeader']/*[local-name()='fileDesc']/*[local-name()='publicationStmt']",
	"/*[local-name()='TEI']/*[local-name()='teiHeader']/*[local-name()='fileDesc']/*[local-name()='sourceDesc']",
	"/*[local-name()='TEI']/*[local-name()='text']/*[local-name()='body']/*[local-name()='div']/*",
}

// validateTEI re-parses a TEI document and checks its required structure.
func validateTEI(doc string) error {
	root, err := xmlquery.Parse(strings.NewReader(doc))
	if err != nil {
		return fmt.Errorf("parse tei: %w", err)
	}
	tei := xmlquery.FindOne(root, "/*[local-name()='TEI']")
	if tei == nil || tei.NamespaceURI != teiNamespace {
		return fmt.Errorf("tei: missing TEI root in %s namespace", teiNamespace)
	}
	for _, path := range teiRequired {
		node, err := xmlquery.Query(root, path)
		if err != nil {
			return fmt.Errorf("tei: query %s: %w", path, err)
		}
		if node == nil {
			return fmt.Errorf("tei: missing %s", path)
		}
	}
	return nil
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
