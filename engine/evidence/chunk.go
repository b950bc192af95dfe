package evidence

import (
	"strings"
	"unicode"
)

const (
	// DefaultChunkSize is the target number of words per chunk.
	DefaultChunkSize = 200
	// DefaultOverlap is the number of overlapping words between chunks.
	DefaultOverlap = 30
)

// splitSentences splits text on sentence punctuation followed by space,
// and on newlines.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}
	for i, r := range runes {
		current.WriteRune(r)
		switch {
		case r == '\n':
			flush()
		case r == '.' || r == '!' || r == '?':
			if i == len(runes)-1 || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()
	return sentences
}

// chunkSentences groups sentences into chunks of about chunkSize words,
// carrying overlap words of trailing sentences into the next chunk.
func chunkSentences(sentences []string, chunkSize, overlap int) []string {
	if len(sentences) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	var chunks []string
	start := 0
	for start < len(sentences) {
		var buf strings.Builder
		words := 0
		end := start
		for end < len(sentences) {
			n := wordCount(sentences[end])
			if words+n > chunkSize && words > 0 {
				break
			}
			if buf.Len() > 0 {
				buf.WriteRune(' ')
			}
			buf.WriteString(sentences[end])
			words += n
			end++
		}
		chunks = append(chunks, buf.String())
		if end >= len(sentences) {
			break
		}

		back := end
		carried := 0
		for back > start+1 && carried < overlap {
			back--
			carried += wordCount(sentences[back])
		}
		start = back
	}
	return chunks
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
