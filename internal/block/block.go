// Package block parses typed context blocks out of a composed prompt payload.
//
// A payload is ordinary text interleaved with zero or more delimited blocks:
//
//	<context_block type="note-context" path="notes/alpha.md" title="Alpha">
//	...body...
//	</context_block>
//
// The parser records byte offsets for every block so that any block can be
// replaced in-place later without disturbing the surrounding text. Malformed
// or unterminated blocks are left as ordinary text rather than aborting the
// parse: recovery is a normal control path, not an exception.
package block

import (
	"fmt"
	"sort"
	"strings"
)

// Block type categories produced by the prompt composer.
const (
	TypeNoteContext = "note-context"
	TypeActiveNote  = "active-note"
	TypeURLContent  = "url-content"
)

const (
	openPrefix = "<context_block"
	closeTag   = "</context_block>"
)

// MetadataEntry is one key/value pair from a block's open tag. Order is
// preserved from the source.
type MetadataEntry struct {
	Key   string
	Value string
}

// ParsedContextItem is one identified block inside a composed payload.
// Items are created fresh per parse and never persisted.
type ParsedContextItem struct {
	Type     string          // category tag, e.g. note-context
	Path     string          // source identifier
	Title    string          // human-readable title
	Content  string          // body text with the delimiting newlines stripped
	Metadata []MetadataEntry // remaining open-tag attributes, source order

	// OriginalText is the verbatim source slice covering the whole block,
	// equal to source[StartOffset:EndOffset].
	OriginalText string
	StartOffset  int
	EndOffset    int
}

// Render rebuilds the block with the same identity and metadata but a new
// body. Attribute order is canonicalized to type, path, title, then the
// remaining metadata in source order.
func (it ParsedContextItem) Render(body string) string {
	var sb strings.Builder
	sb.WriteString(openPrefix)
	writeAttr(&sb, "type", it.Type)
	if it.Path != "" {
		writeAttr(&sb, "path", it.Path)
	}
	if it.Title != "" {
		writeAttr(&sb, "title", it.Title)
	}
	for _, m := range it.Metadata {
		writeAttr(&sb, m.Key, m.Value)
	}
	sb.WriteString(">\n")
	sb.WriteString(body)
	sb.WriteString("\n")
	sb.WriteString(closeTag)
	return sb.String()
}

func writeAttr(sb *strings.Builder, key, value string) {
	sb.WriteString(" ")
	sb.WriteString(key)
	sb.WriteString(`="`)
	sb.WriteString(value)
	sb.WriteString(`"`)
}

// =============================================================================
// PARSING
// =============================================================================

// segment is one scan step's tagged result: either a recognized item or a
// stretch of raw text. Raw segments include skipped malformed blocks.
type segment struct {
	item  *ParsedContextItem // nil for raw text
	start int
	end   int
}

// Parse scans a composed payload and extracts every well-formed block, in
// source order. Item offsets are non-overlapping and ascending; the text
// between and around items is left implicit and can be recovered from the
// offsets. Malformed regions parse as raw text and are simply not emitted.
func Parse(source string) []ParsedContextItem {
	var items []ParsedContextItem
	for _, seg := range scan(source) {
		if seg.item != nil {
			items = append(items, *seg.item)
		}
	}
	return items
}

// scan splits the payload into raw and item segments.
func scan(source string) []segment {
	var segs []segment
	pos := 0
	rawStart := 0

	for pos < len(source) {
		rel := strings.Index(source[pos:], openPrefix)
		if rel < 0 {
			break
		}
		start := pos + rel

		item, end, ok := parseBlockAt(source, start)
		if !ok {
			// Unrecognized or unterminated open; leave it as ordinary text
			// and resume scanning past the candidate '<'.
			pos = start + 1
			continue
		}

		if start > rawStart {
			segs = append(segs, segment{start: rawStart, end: start})
		}
		segs = append(segs, segment{item: item, start: start, end: end})
		rawStart = end
		pos = end
	}

	if rawStart < len(source) {
		segs = append(segs, segment{start: rawStart, end: len(source)})
	}
	return segs
}

// parseBlockAt attempts to parse one block whose open prefix starts at
// offset start. Returns the item and the offset just past the close tag.
func parseBlockAt(source string, start int) (*ParsedContextItem, int, bool) {
	attrStart := start + len(openPrefix)
	if attrStart >= len(source) {
		return nil, 0, false
	}
	// Require a delimiter after the prefix so "<context_blocks" never
	// parses as a tag.
	switch source[attrStart] {
	case ' ', '\t', '\n', '>':
	default:
		return nil, 0, false
	}

	tagEnd := findTagEnd(source, attrStart)
	if tagEnd < 0 {
		return nil, 0, false
	}

	attrs, ok := parseAttributes(source[attrStart:tagEnd])
	if !ok {
		return nil, 0, false
	}

	item := ParsedContextItem{StartOffset: start}
	for _, a := range attrs {
		switch a.Key {
		case "type":
			item.Type = a.Value
		case "path":
			item.Path = a.Value
		case "title":
			item.Title = a.Value
		default:
			item.Metadata = append(item.Metadata, a)
		}
	}
	if item.Type == "" {
		return nil, 0, false
	}

	closeRel := strings.Index(source[tagEnd+1:], closeTag)
	if closeRel < 0 {
		return nil, 0, false
	}
	closeStart := tagEnd + 1 + closeRel
	end := closeStart + len(closeTag)

	item.EndOffset = end
	item.OriginalText = source[start:end]
	item.Content = trimDelimiterNewlines(source[tagEnd+1 : closeStart])
	return &item, end, true
}

// findTagEnd locates the '>' terminating an open tag, honoring quoted
// attribute values. Returns -1 if the tag never closes.
func findTagEnd(source string, from int) int {
	inQuote := false
	for i := from; i < len(source); i++ {
		switch source[i] {
		case '"':
			inQuote = !inQuote
		case '>':
			if !inQuote {
				return i
			}
		case '<':
			if !inQuote {
				// A new tag opening before this one closed.
				return -1
			}
		}
	}
	return -1
}

// parseAttributes parses space-separated key="value" pairs. Values carry no
// escape sequences; a literal quote inside a value is not representable,
// which is a composer contract, not a parser concern.
func parseAttributes(raw string) ([]MetadataEntry, bool) {
	var attrs []MetadataEntry
	i := 0
	for i < len(raw) {
		for i < len(raw) && isSpace(raw[i]) {
			i++
		}
		if i >= len(raw) {
			break
		}

		keyStart := i
		for i < len(raw) && raw[i] != '=' && !isSpace(raw[i]) {
			i++
		}
		if i >= len(raw) || raw[i] != '=' || i == keyStart {
			return nil, false
		}
		key := raw[keyStart:i]
		i++ // '='

		if i >= len(raw) || raw[i] != '"' {
			return nil, false
		}
		i++ // opening quote
		valStart := i
		for i < len(raw) && raw[i] != '"' {
			i++
		}
		if i >= len(raw) {
			return nil, false
		}
		attrs = append(attrs, MetadataEntry{Key: key, Value: raw[valStart:i]})
		i++ // closing quote
	}
	return attrs, true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// trimDelimiterNewlines strips the single newline that separates the open
// tag from the body and the body from the close tag, when present.
func trimDelimiterNewlines(body string) string {
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimSuffix(body, "\n")
	return body
}

// =============================================================================
// SPLICING
// =============================================================================

// Replacement substitutes source[StartOffset:EndOffset) with Text.
type Replacement struct {
	StartOffset int
	EndOffset   int
	Text        string
}

// Splice applies replacements to the source, working from the end of the
// document backward so earlier offsets remain valid. Zero replacements
// reproduce the source exactly. Replacements must be within bounds and
// non-overlapping.
func Splice(source string, replacements []Replacement) (string, error) {
	if len(replacements) == 0 {
		return source, nil
	}

	reps := make([]Replacement, len(replacements))
	copy(reps, replacements)
	sort.Slice(reps, func(i, j int) bool { return reps[i].StartOffset > reps[j].StartOffset })

	out := source
	lastStart := len(source)
	for _, r := range reps {
		if r.StartOffset < 0 || r.EndOffset > len(source) || r.StartOffset >= r.EndOffset {
			return source, fmt.Errorf("replacement [%d,%d) out of range for source of %d bytes",
				r.StartOffset, r.EndOffset, len(source))
		}
		if r.EndOffset > lastStart {
			return source, fmt.Errorf("replacement [%d,%d) overlaps a later replacement",
				r.StartOffset, r.EndOffset)
		}
		out = out[:r.StartOffset] + r.Text + out[r.EndOffset:]
		lastStart = r.StartOffset
	}
	return out, nil
}
