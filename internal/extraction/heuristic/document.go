package heuristic

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/contextractor/internal/extraction"
)

type blockKind int

const (
	blockHeading blockKind = iota
	blockParagraph
	blockList
	blockQuote
	blockCode
	blockTable
	blockImage
)

// span is a run of inline text sharing one style.
type span struct {
	text   string
	bold   bool
	italic bool
	href   string
}

type block struct {
	kind    blockKind
	level   int
	spans   []span
	items   [][]span
	ordered bool
	code    string
	rows    [][]string
	src     string
	alt     string
}

func (b block) text() string {
	switch b.kind {
	case blockList:
		parts := make([]string, 0, len(b.items))
		for _, item := range b.items {
			parts = append(parts, spansText(item))
		}
		return strings.Join(parts, " ")
	case blockCode:
		return b.code
	case blockTable:
		cells := make([]string, 0, len(b.rows))
		for _, row := range b.rows {
			cells = append(cells, strings.Join(row, " "))
		}
		return strings.Join(cells, " ")
	case blockImage:
		return b.alt
	default:
		return spansText(b.spans)
	}
}

func (b block) linkDensity() float64 {
	var spans []span
	switch b.kind {
	case blockList:
		for _, item := range b.items {
			spans = append(spans, item...)
		}
	case blockParagraph, blockQuote, blockHeading:
		spans = b.spans
	default:
		return 0
	}
	var total, linked int
	for _, s := range spans {
		n := utf8.RuneCountInString(strings.TrimSpace(s.text))
		total += n
		if s.href != "" {
			linked += n
		}
	}
	if total == 0 {
		return 0
	}
	return float64(linked) / float64(total)
}

func spansText(spans []span) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.text)
	}
	return strings.TrimSpace(b.String())
}

var (
	whitespace = regexp.MustCompile(`\s+`)

	// Always stripped: never part of readable content.
	noiseSelector = "script, style, noscript, template, iframe, svg, canvas, form, button, input, select, textarea, object, embed, link, meta, [hidden], [aria-hidden='true']"

	boilerplatePattern = regexp.MustCompile(`(?i)(^|[\s_-])(nav|navbar|navigation|menu|footer|sidebar|cookies?|consent|banner|breadcrumbs?|share|sharing|social|advert|advertisement|ads?|sponsored|promo|related|newsletter|subscribe|popup|modal|widget|skip-link)([\s_-]|$)`)
	recallBoilerplate  = regexp.MustCompile(`(?i)(^|[\s_-])(cookies?|consent|share|sharing|social|advert|advertisement|ads?|sponsored|newsletter|popup|modal)([\s_-]|$)`)

	commentSelector = "#comments, .comments, #comment-section, .comment-list, .comments-area, .commentlist, [id^='comments-'], section.comments"
)

// document is one parsed page plus what pruning took out of it.
type document struct {
	doc      *goquery.Document
	base     *url.URL
	comments []block
}

func parseDocument(rawHTML, pageURL string) (*document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}
	base, _ := url.Parse(pageURL)
	return &document{doc: doc, base: base}, nil
}

// prune removes noise, boilerplate and prune_xpath matches. Comment sections
// are detached first and kept aside when include_comments is set.
func (d *document) prune(opts extraction.Options) error {
	if len(opts.PruneXPath) > 0 && len(d.doc.Nodes) > 0 {
		root := d.doc.Nodes[0]
		for _, expr := range opts.PruneXPath {
			nodes, err := htmlquery.QueryAll(root, expr)
			if err != nil {
				return err
			}
			for _, n := range nodes {
				if n.Parent != nil {
					n.Parent.RemoveChild(n)
				}
			}
		}
	}

	d.doc.Find(noiseSelector).Remove()

	comments := d.doc.Find(commentSelector)
	if opts.IncludeComments {
		comments.Each(func(_ int, s *goquery.Selection) {
			c := newCollector(opts, d.base)
			for _, n := range s.Nodes {
				c.walk(n)
			}
			c.flush()
			d.comments = append(d.comments, c.blocks...)
		})
	}
	comments.Remove()

	if opts.Fast {
		d.doc.Find("nav, footer").Remove()
		return nil
	}

	d.doc.Find("nav, footer, [role='navigation'], [role='contentinfo']").Remove()
	if !opts.FavorRecall {
		d.doc.Find("aside, [role='complementary']").Remove()
	}
	d.doc.Find("header").Each(func(_ int, s *goquery.Selection) {
		if s.Closest("article, main, [role='main']").Length() == 0 {
			s.Remove()
		}
	})

	pattern := boilerplatePattern
	if opts.FavorRecall {
		pattern = recallBoilerplate
	}
	d.doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		if len(s.Nodes) == 0 || s.Nodes[0].Parent == nil {
			return
		}
		switch goquery.NodeName(s) {
		case "article", "main", "body", "html", "p", "h1", "h2", "h3", "h4", "h5", "h6":
			return
		}
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		if !pattern.MatchString(class + " " + id) {
			return
		}
		if s.Find("article, main, h1").Length() > 0 {
			return
		}
		s.Remove()
	})
	return nil
}

// container picks the element holding the main content.
func (d *document) container(opts extraction.Options) *html.Node {
	body := d.doc.Find("body")
	if body.Length() == 0 {
		if len(d.doc.Nodes) == 0 {
			return nil
		}
		return d.doc.Nodes[0]
	}
	if opts.Fast {
		if main := d.doc.Find("article, main, [role='main']").First(); main.Length() > 0 {
			return main.Nodes[0]
		}
		return body.Nodes[0]
	}

	scores := make(map[*html.Node]float64)
	var order []*html.Node
	add := func(n *html.Node, score float64) {
		if n == nil || n.Type != html.ElementNode {
			return
		}
		if _, seen := scores[n]; !seen {
			order = append(order, n)
		}
		scores[n] += score
	}
	body.Find("p, pre, blockquote, td, li").Each(func(_ int, s *goquery.Selection) {
		text := normalizeSpace(s.Text())
		length := utf8.RuneCountInString(text)
		if length < 25 {
			return
		}
		score := 1 + float64(strings.Count(text, ",")) + minFloat(float64(length)/100, 3)
		parent := s.Nodes[0].Parent
		add(parent, score)
		if parent != nil {
			add(parent.Parent, score/2)
		}
	})

	var best *html.Node
	var bestScore float64
	for _, n := range order {
		sel := goquery.NewDocumentFromNode(n).Selection
		score := scores[n] * (1 - selectionLinkDensity(sel))
		switch n.Data {
		case "article", "main":
			score *= 1.25
		}
		if role := attr(n, "role"); role == "main" {
			score *= 1.25
		}
		if score > bestScore {
			best, bestScore = n, score
		}
	}
	if best == nil {
		if main := d.doc.Find("article, main, [role='main']").First(); main.Length() > 0 {
			return main.Nodes[0]
		}
		return body.Nodes[0]
	}
	if opts.FavorRecall && best.Parent != nil && best.Parent.Type == html.ElementNode && best.Parent.Data != "html" {
		return best.Parent
	}
	return best
}

func selectionLinkDensity(s *goquery.Selection) float64 {
	total := utf8.RuneCountInString(normalizeSpace(s.Text()))
	if total == 0 {
		return 0
	}
	linked := 0
	s.Find("a").Each(func(_ int, a *goquery.Selection) {
		linked += utf8.RuneCountInString(normalizeSpace(a.Text()))
	})
	return float64(linked) / float64(total)
}

// collector walks a subtree and turns it into blocks.
type collector struct {
	opts     extraction.Options
	base     *url.URL
	blocks   []block
	pending  []span
	deferred []block
}

func newCollector(opts extraction.Options, base *url.URL) *collector {
	return &collector{opts: opts, base: base}
}

func (c *collector) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		c.pending = append(c.pending, span{text: collapse(n.Data)})
		return
	case html.ElementNode:
	default:
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			c.walk(child)
		}
		return
	}

	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		c.flush()
		c.push(block{kind: blockHeading, level: int(n.Data[1] - '0'), spans: c.inline(n)})
	case "p", "figcaption", "dt", "dd":
		c.flush()
		c.push(block{kind: blockParagraph, spans: c.inline(n)})
	case "ul", "ol":
		c.flush()
		c.list(n)
	case "blockquote":
		c.flush()
		c.push(block{kind: blockQuote, spans: c.inline(n)})
	case "pre":
		c.flush()
		if code := strings.Trim(textContent(n), "\n"); strings.TrimSpace(code) != "" {
			c.blocks = append(c.blocks, block{kind: blockCode, code: code})
		}
	case "table":
		c.flush()
		if c.opts.IncludeTables {
			c.table(n)
		}
	case "img":
		if c.opts.IncludeImages {
			c.flush()
			c.image(n)
		}
	case "br":
		c.pending = append(c.pending, span{text: " "})
	case "a", "b", "strong", "i", "em", "span", "code", "small", "sup", "sub", "u", "mark", "abbr", "time", "cite", "q", "label", "font", "s", "del", "ins", "kbd", "var":
		c.pending = append(c.pending, c.inline(n)...)
	default:
		c.flush()
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			c.walk(child)
		}
		c.flush()
	}
}

// flush turns loose inline text into a paragraph.
func (c *collector) flush() {
	if len(c.pending) > 0 {
		spans := tidy(c.pending)
		c.pending = nil
		if len(spans) > 0 {
			c.blocks = append(c.blocks, block{kind: blockParagraph, spans: spans})
		}
	}
	c.blocks = append(c.blocks, c.deferred...)
	c.deferred = nil
}

func (c *collector) push(b block) {
	b.spans = tidy(b.spans)
	if len(b.spans) > 0 {
		c.blocks = append(c.blocks, b)
	}
	c.blocks = append(c.blocks, c.deferred...)
	c.deferred = nil
}

func (c *collector) list(n *html.Node) {
	b := block{kind: blockList, ordered: n.Data == "ol"}
	for li := n.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.Data != "li" {
			continue
		}
		if item := tidy(c.inline(li)); len(item) > 0 {
			b.items = append(b.items, item)
		}
	}
	if len(b.items) > 0 {
		c.blocks = append(c.blocks, b)
	}
	c.blocks = append(c.blocks, c.deferred...)
	c.deferred = nil
}

func (c *collector) table(n *html.Node) {
	var rows [][]string
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.ElementNode {
				continue
			}
			switch child.Data {
			case "tr":
				var row []string
				for cell := child.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
						row = append(row, normalizeSpace(textContent(cell)))
					}
				}
				if len(row) > 0 && strings.TrimSpace(strings.Join(row, "")) != "" {
					rows = append(rows, row)
				}
			case "thead", "tbody", "tfoot":
				visit(child)
			}
		}
	}
	visit(n)
	if len(rows) > 0 {
		c.blocks = append(c.blocks, block{kind: blockTable, rows: rows})
	}
}

func (c *collector) image(n *html.Node) {
	src := attr(n, "src")
	if src == "" {
		src = attr(n, "data-src")
	}
	if src == "" || strings.HasPrefix(src, "data:") {
		return
	}
	c.blocks = append(c.blocks, block{kind: blockImage, src: c.resolve(src), alt: normalizeSpace(attr(n, "alt"))})
}

// inline flattens a subtree into styled spans. Images met on the way are
// queued as blocks following the current one.
func (c *collector) inline(n *html.Node) []span {
	var out []span
	var visit func(node *html.Node, style span)
	visit = func(node *html.Node, style span) {
		switch node.Type {
		case html.TextNode:
			s := style
			s.text = collapse(node.Data)
			out = append(out, s)
			return
		case html.ElementNode:
		default:
			return
		}
		switch node.Data {
		case "b", "strong":
			style.bold = true
		case "i", "em":
			style.italic = true
		case "a":
			if href := attr(node, "href"); href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
				style.href = c.resolve(href)
			}
		case "br":
			out = append(out, span{text: " "})
			return
		case "img":
			if c.opts.IncludeImages {
				saved := c.blocks
				c.blocks = nil
				c.image(node)
				c.deferred = append(c.deferred, c.blocks...)
				c.blocks = saved
			}
			return
		case "p", "div", "li", "ul", "ol", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre", "table", "tr":
			out = append(out, span{text: " "})
			defer func() { out = append(out, span{text: " "}) }()
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			visit(child, style)
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		visit(child, span{})
	}
	return out
}

func (c *collector) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if c.base == nil {
		return ref
	}
	u, err := c.base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// tidy merges adjacent spans of the same style, collapses whitespace across
// span borders and trims the ends.
func tidy(spans []span) []span {
	var out []span
	for _, s := range spans {
		if s.text == "" {
			continue
		}
		if n := len(out); n > 0 {
			last := &out[n-1]
			if strings.HasSuffix(last.text, " ") && strings.HasPrefix(s.text, " ") {
				s.text = strings.TrimPrefix(s.text, " ")
				if s.text == "" {
					continue
				}
			}
			if last.bold == s.bold && last.italic == s.italic && last.href == s.href {
				last.text += s.text
				continue
			}
		} else {
			s.text = strings.TrimLeft(s.text, " ")
			if s.text == "" {
				continue
			}
		}
		out = append(out, s)
	}
	for len(out) > 0 {
		last := &out[len(out)-1]
		last.text = strings.TrimRight(last.text, " ")
		if last.text != "" {
			break
		}
		out = out[:len(out)-1]
	}
	return out
}

func collapse(s string) string {
	return whitespace.ReplaceAllString(s, " ")
}

func normalizeSpace(s string) string {
	return strings.TrimSpace(collapse(s))
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
