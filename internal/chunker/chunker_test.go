package chunker

import (
	"fmt"
	"strings"
	"testing"
)

func numberedLines(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line%d\n", i)
	}
	return b.String()
}

func TestChunkLinesOverlap(t *testing.T) {
	chunks := ChunkLines(numberedLines(10), Options{MaxLines: 4, Overlap: 1})
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	want := [][2]int{{1, 4}, {4, 7}, {7, 10}}
	for i, c := range chunks {
		if c.StartLine != want[i][0] || c.EndLine != want[i][1] {
			t.Errorf("chunk %d: got lines %d-%d, want %d-%d", i, c.StartLine, c.EndLine, want[i][0], want[i][1])
		}
		if c.Index != i {
			t.Errorf("chunk %d: got index %d", i, c.Index)
		}
	}
	if !strings.HasPrefix(chunks[1].Text, "line4\n") {
		t.Fatalf("expected overlap to repeat line4, got %q", chunks[1].Text)
	}
}

func TestChunkLinesEmptyInput(t *testing.T) {
	for _, text := range []string{"", "\n", "   \n\t\n"} {
		chunks := ChunkLines(text, Options{MaxLines: 10})
		if len(chunks) != 0 {
			t.Errorf("expected 0 chunks for %q, got %d", text, len(chunks))
		}
	}
}

func TestChunkLinesNoOverlap(t *testing.T) {
	chunks := ChunkLines("a b\nc\nd e f\ng\nh\ni", Options{MaxLines: 3, Overlap: 0})
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "a b\nc\nd e f" {
		t.Errorf("unexpected first chunk %q", chunks[0].Text)
	}
	if chunks[0].TokenCount != 6 {
		t.Errorf("expected first chunk to have 6 tokens, got %d", chunks[0].TokenCount)
	}
	if chunks[1].StartLine != 4 {
		t.Errorf("expected second chunk to start at line 4, got %d", chunks[1].StartLine)
	}
}

func TestChunkLinesSkipsBlankWindows(t *testing.T) {
	text := "func a() {}\n\n\n\nfunc b() {}\n"
	chunks := ChunkLines(text, Options{MaxLines: 2})
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Index != 1 || chunks[1].StartLine != 5 {
		t.Errorf("expected renumbered chunk starting at line 5, got %+v", chunks[1])
	}
}

func TestChunkLinesCRLF(t *testing.T) {
	chunks := ChunkLines("one\r\ntwo\r\n", Options{MaxLines: 5})
	if len(chunks) != 1 || chunks[0].Text != "one\ntwo" {
		t.Fatalf("unexpected chunks %+v", chunks)
	}
}

func TestChunkLinesDefaults(t *testing.T) {
	chunks := ChunkLines(numberedLines(500), Options{Overlap: 100})

	if len(chunks) == 0 {
		t.Fatal("expected chunks with default options")
	}
	for _, c := range chunks {
		if n := c.EndLine - c.StartLine + 1; n > 40 {
			t.Errorf("chunk exceeded default max lines (40): got %d", n)
		}
	}
	if last := chunks[len(chunks)-1]; last.EndLine != 500 {
		t.Errorf("expected last chunk to end at line 500, got %d", last.EndLine)
	}
}
