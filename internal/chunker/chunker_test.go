package chunker

import (
	"strings"
	"testing"
)

func TestHeaderSplit(t *testing.T) {
	markdown := `# Travel

Notes about trips.

## Paris

Spring visit, saw the Eiffel Tower.

## London

Saw Big Ben.

# Cooking

Pasta recipes.
`
	pieces := NewChunker(0).Chunk(markdown)
	if len(pieces) != 4 {
		t.Fatalf("expected 4 pieces, got %d", len(pieces))
	}
	if !strings.Contains(pieces[0].Content, "Notes about trips") {
		t.Errorf("first piece should hold the H1 intro, got %q", pieces[0].Content)
	}
	if len(pieces[0].HeaderPath) != 1 || pieces[0].HeaderPath[0] != "# Travel" {
		t.Errorf("unexpected header path %v", pieces[0].HeaderPath)
	}

	paris := pieces[1]
	if len(paris.HeaderPath) != 2 || paris.HeaderPath[0] != "# Travel" || paris.HeaderPath[1] != "## Paris" {
		t.Errorf("nested header path wrong: %v", paris.HeaderPath)
	}
	if paris.Title() != "# Travel > ## Paris" {
		t.Errorf("title = %q", paris.Title())
	}

	// The sibling H1 resets the path; Cooking is not nested under Travel.
	cooking := pieces[3]
	if len(cooking.HeaderPath) != 1 || cooking.HeaderPath[0] != "# Cooking" {
		t.Errorf("sibling H1 path wrong: %v", cooking.HeaderPath)
	}
}

func TestHeaderlessContent(t *testing.T) {
	pieces := NewChunker(0).Chunk("just a short plain note")
	if len(pieces) != 1 {
		t.Fatalf("expected a single piece, got %d", len(pieces))
	}
	if pieces[0].Title() != "" {
		t.Errorf("headerless piece should have empty title, got %q", pieces[0].Title())
	}
	if got := NewChunker(0).Chunk(""); got != nil {
		t.Errorf("empty content should yield no pieces, got %v", got)
	}
}

func TestLongBlockIsSplit(t *testing.T) {
	long := strings.Repeat("a long paragraph about nothing in particular. ", 40) // ~1.8KB
	pieces := NewChunker(800).Chunk("# Title\n\n" + long)
	if len(pieces) < 2 {
		t.Fatalf("oversized block should split, got %d pieces", len(pieces))
	}
	for i, p := range pieces {
		if len(p.Content) > 800+lengthSlack {
			t.Errorf("piece %d exceeds max length: %d bytes", i, len(p.Content))
		}
		if len(p.HeaderPath) != 1 || p.HeaderPath[0] != "# Title" {
			t.Errorf("piece %d lost its header path: %v", i, p.HeaderPath)
		}
	}
}

func TestSplitPreservesOffsets(t *testing.T) {
	content := strings.Repeat("line of text\n", 200)
	pieces := NewChunker(300).Chunk(content)
	var rebuilt strings.Builder
	pos := 0
	for i, p := range pieces {
		if p.Start != pos {
			t.Fatalf("piece %d starts at %d, want %d", i, p.Start, pos)
		}
		if content[p.Start:p.End] != p.Content {
			t.Fatalf("piece %d offsets do not match content", i)
		}
		rebuilt.WriteString(p.Content)
		pos = p.End
	}
	if rebuilt.String() != content {
		t.Error("concatenated pieces should reproduce the source")
	}
}

func TestUTF8SafeHardSplit(t *testing.T) {
	oneLine := strings.Repeat("日本語のテキスト", 100) // one long line, multibyte runes
	pieces := NewChunker(100).Chunk(oneLine)
	for i, p := range pieces {
		if !strings.HasPrefix(p.Content, "日") && i > 0 {
			// Every split must land on a rune boundary; a broken rune would
			// start with a continuation byte.
			if len(p.Content) > 0 && p.Content[0]&0xC0 == 0x80 {
				t.Fatalf("piece %d starts mid-rune", i)
			}
		}
	}
}

func TestSummary(t *testing.T) {
	p := &Piece{Content: "## Heading\nFirst paragraph here.\n\nSecond paragraph."}
	if got := p.Summary(); got != "First paragraph here." {
		t.Errorf("summary = %q", got)
	}

	long := &Piece{Content: strings.Repeat("word ", 100)}
	if got := long.Summary(); len(got) > 240 {
		t.Errorf("summary too long: %d bytes", len(got))
	}
}
