package chunk

import (
	"encoding/json"
	"strings"
)

// Annotated pairs a chunk with the header path enclosing its start offset.
// The annotation is stored as a small JSON object; embeddings are always
// produced over EmbedText, never over the JSON form.
type Annotated struct {
	Context string `json:"context"`
	Content string `json:"content"`
}

// EmbedText is the text handed to the embedder for an annotated chunk.
func (a Annotated) EmbedText() string {
	if a.Context == "" {
		return a.Content
	}
	return a.Context + "\n\n" + a.Content
}

// Encode serializes the annotation for storage.
func (a Annotated) Encode() (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeAnnotated parses a stored contextual chunk. It reports ok=false for
// plain (non-contextual) content so callers can assert mode consistency.
func DecodeAnnotated(s string) (Annotated, bool) {
	if !strings.HasPrefix(strings.TrimSpace(s), "{") {
		return Annotated{}, false
	}
	var a Annotated
	if err := json.Unmarshal([]byte(s), &a); err != nil || a.Content == "" {
		return Annotated{}, false
	}
	return a, true
}

// Contextualize computes each chunk's enclosing markdown header path from
// the source document. Headers are tracked by level; deeper headers extend
// the path, a header at the same or shallower level truncates it.
func Contextualize(text string, chunks []Chunk) []Annotated {
	type header struct {
		level int
		title string
		pos   int
	}

	var headers []header
	pos := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "#") {
			level := 0
			for level < len(trimmed) && trimmed[level] == '#' {
				level++
			}
			title := strings.TrimSpace(trimmed[level:])
			if level <= 6 && title != "" {
				headers = append(headers, header{level: level, title: title, pos: pos})
			}
		}
		pos += len(line)
	}

	out := make([]Annotated, len(chunks))
	for i, c := range chunks {
		var path []header
		for _, h := range headers {
			if h.pos > c.Start {
				break
			}
			for len(path) > 0 && path[len(path)-1].level >= h.level {
				path = path[:len(path)-1]
			}
			path = append(path, h)
		}
		parts := make([]string, len(path))
		for j, h := range path {
			parts[j] = h.title
		}
		out[i] = Annotated{
			Context: strings.Join(parts, " > "),
			Content: c.Content,
		}
	}
	return out
}
