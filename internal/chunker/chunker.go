package chunker

import (
	"strings"
)

// Options controls how source text is chunked.
type Options struct {
	MaxLines int
	Overlap  int
}

// Chunk is a window of consecutive lines from one document.
// StartLine and EndLine are 1-based and inclusive.
type Chunk struct {
	Index      int
	StartLine  int
	EndLine    int
	Text       string
	TokenCount int
}

// ChunkLines splits text into overlapping windows of whole lines, which keeps
// functions and their surrounding context together for source files.
// Windows containing only blank lines are dropped.
func ChunkLines(text string, opts Options) []Chunk {
	if opts.MaxLines <= 0 {
		opts.MaxLines = 40
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	// drop the empty element produced by a trailing newline
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	var chunks []Chunk
	if len(lines) == 0 {
		return chunks
	}

	step := opts.MaxLines - opts.Overlap
	if step <= 0 {
		step = opts.MaxLines
	}

	for start := 0; start < len(lines); start += step {
		end := min(start+opts.MaxLines, len(lines))
		segment := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(segment) != "" {
			chunks = append(chunks, Chunk{
				Index:      len(chunks),
				StartLine:  start + 1,
				EndLine:    end,
				Text:       segment,
				TokenCount: len(strings.Fields(segment)),
			})
		}
		if end == len(lines) {
			break
		}
	}
	return chunks
}
