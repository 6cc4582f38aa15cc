// Package chunker splits markdown note content into semantic pieces along
// header boundaries, carrying the parent header path as context.
package chunker

import "strings"

// DefaultMaxLen is the target upper bound for a piece's content length in bytes.
const DefaultMaxLen = 800

// lengthSlack lets a header block slightly exceed MaxLen before it is split,
// so blocks just over the limit are not cut in two.
const lengthSlack = 50

// Piece is one chunk of a note, with the header path leading to it.
type Piece struct {
	Content    string
	HeaderPath []string // e.g. ["# Travel", "## Paris"]
	Start      int      // byte offset in the source
	End        int
}

// Title returns the header path joined for title-vector embedding.
// Pieces without headers have an empty title.
func (p *Piece) Title() string {
	return strings.Join(p.HeaderPath, " > ")
}

// Summary returns a condensed form of the piece for summary-vector embedding:
// the first paragraph after any leading header line, capped at 240 bytes on a
// rune boundary.
func (p *Piece) Summary() string {
	text := p.Content
	if strings.HasPrefix(strings.TrimSpace(text), "#") {
		if idx := strings.IndexByte(text, '\n'); idx >= 0 {
			text = text[idx+1:]
		}
	}
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "\n\n"); idx >= 0 {
		text = text[:idx]
	}
	const maxSummary = 240
	if len(text) <= maxSummary {
		return text
	}
	cut := maxSummary
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

type header struct {
	level    int
	text     string
	position int
}

// Chunker splits markdown by headers with a recursive length fallback.
type Chunker struct {
	maxLen int
}

// NewChunker creates a chunker. maxLen <= 0 uses DefaultMaxLen.
func NewChunker(maxLen int) *Chunker {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Chunker{maxLen: maxLen}
}

// Chunk splits content into pieces. Headers of any level start a new piece;
// each piece carries its parent header path. Headerless or oversized blocks
// fall back to newline-aware length splitting.
func (c *Chunker) Chunk(content string) []*Piece {
	if content == "" {
		return nil
	}
	headers := extractHeaders(content)
	if len(headers) == 0 {
		if len(content) <= c.maxLen {
			return []*Piece{{Content: content, Start: 0, End: len(content)}}
		}
		var pieces []*Piece
		pos := 0
		for _, part := range splitByLength(content, c.maxLen) {
			end := pos + len(part)
			pieces = append(pieces, &Piece{Content: part, Start: pos, End: end})
			pos = end
		}
		return pieces
	}
	return c.splitByHeaders(content, headers)
}

func extractHeaders(content string) []header {
	var headers []header
	pos := 0
	for _, line := range strings.SplitAfter(content, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "#") {
			level := 0
			for level < len(trimmed) && trimmed[level] == '#' {
				level++
			}
			text := strings.TrimSpace(trimmed[level:])
			if text != "" {
				headers = append(headers, header{level: level, text: text, position: pos})
			}
		}
		pos += len(line)
	}
	return headers
}

func (c *Chunker) splitByHeaders(content string, headers []header) []*Piece {
	var pieces []*Piece
	// pathStack holds the (level, formatted header) ancestry of the current block.
	type stackEntry struct {
		level     int
		formatted string
	}
	var pathStack []stackEntry

	for i, h := range headers {
		end := len(content)
		if i+1 < len(headers) {
			end = headers[i+1].position
		}
		block := content[h.position:end]

		for len(pathStack) > 0 && pathStack[len(pathStack)-1].level >= h.level {
			pathStack = pathStack[:len(pathStack)-1]
		}
		pathStack = append(pathStack, stackEntry{
			level:     h.level,
			formatted: strings.Repeat("#", h.level) + " " + h.text,
		})
		headerPath := make([]string, len(pathStack))
		for j, entry := range pathStack {
			headerPath[j] = entry.formatted
		}

		if len(block) > c.maxLen+lengthSlack {
			pos := h.position
			for _, part := range splitByLength(block, c.maxLen) {
				partEnd := pos + len(part)
				pieces = append(pieces, &Piece{
					Content:    part,
					HeaderPath: headerPath,
					Start:      pos,
					End:        partEnd,
				})
				pos = partEnd
			}
		} else {
			pieces = append(pieces, &Piece{
				Content:    block,
				HeaderPath: headerPath,
				Start:      h.position,
				End:        end,
			})
		}
	}
	return pieces
}

// splitByLength splits content into parts of at most maxLen bytes, preferring
// newline boundaries and falling back to rune-boundary hard splits for single
// oversized lines.
func splitByLength(content string, maxLen int) []string {
	if len(content) <= maxLen {
		return []string{content}
	}
	var parts []string
	var current strings.Builder
	for _, line := range strings.SplitAfter(content, "\n") {
		if current.Len()+len(line) > maxLen {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
			if len(line) > maxLen {
				for len(line) > maxLen {
					cut := maxLen
					for cut > 0 && !isRuneStart(line[cut]) {
						cut--
					}
					if cut == 0 {
						break
					}
					parts = append(parts, line[:cut])
					line = line[cut:]
				}
				if line != "" {
					current.WriteString(line)
				}
				continue
			}
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
