package chunk

import (
	"strings"
	"unicode/utf8"
)

// BreakType names the rule that produced a chunk's boundary.
type BreakType string

const (
	BreakMarkdownHeader BreakType = "markdown_header"
	BreakParagraph      BreakType = "paragraph"
	BreakNewline        BreakType = "newline"
	BreakSentence       BreakType = "sentence"
	BreakForce          BreakType = "force"
)

// Chunk is a contiguous slice of the source document. Content is exactly
// document[Start:End], so concatenating all chunks in order reproduces the
// source byte-for-byte.
type Chunk struct {
	Start     int
	End       int
	Content   string
	BreakType BreakType
}

// Split segments a markdown document with a greedy forward scan. At each
// step it holds a window [start, start+size] and picks the rightmost
// acceptable break inside the window, preferring markdown headers, then
// paragraph breaks, then newlines, then sentence ends, then a forced cut at
// the window edge. The final remainder chunk carries the break type of the
// boundary that opened it.
func Split(text string, size int) []Chunk {
	if text == "" || size <= 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	prev := BreakParagraph
	if !hasAnyBreak(text) {
		prev = BreakForce
	}

	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, Chunk{
				Start:     start,
				End:       len(text),
				Content:   text[start:],
				BreakType: prev,
			})
			break
		}

		pos, bt := findBreak(text, start, end)
		chunks = append(chunks, Chunk{
			Start:     start,
			End:       pos,
			Content:   text[start:pos],
			BreakType: bt,
		})
		start = pos
		prev = bt
	}

	return chunks
}

// findBreak returns the cut position in (start, end] and the rule that chose
// it.
func findBreak(text string, start, end int) (int, BreakType) {
	window := text[start:end]

	// A "##" line anywhere past the window's first character. The cut lands
	// just before the header line so the header opens the next chunk.
	if idx := strings.LastIndex(window, "\n##"); idx >= 0 {
		return start + idx + 1, BreakMarkdownHeader
	}

	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 {
		return start + idx + 2, BreakParagraph
	}

	if idx := strings.LastIndex(window, "\n"); idx >= 0 {
		return start + idx + 1, BreakNewline
	}

	if idx := lastSentenceEnd(window); idx > 0 {
		return start + idx, BreakSentence
	}

	return forcedCut(text, start, end), BreakForce
}

// forcedCut snaps a window-edge cut back onto a UTF-8 rune boundary so the
// chunk stays valid text. If the whole window sits inside one rune, it moves
// forward to the next boundary instead.
func forcedCut(text string, start, end int) int {
	cut := end
	for cut > start && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == start {
		cut = end + 1
		for cut < len(text) && !utf8.RuneStart(text[cut]) {
			cut++
		}
	}
	return cut
}

// lastSentenceEnd returns the position just after the final punctuation of
// the last ". ", "! " or "? " pair in s, or -1.
func lastSentenceEnd(s string) int {
	best := -1
	for _, sep := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(s, sep); idx >= 0 && idx+2 > best {
			best = idx + 2
		}
	}
	return best
}

func hasAnyBreak(text string) bool {
	return strings.Contains(text, "\n\n")
}
