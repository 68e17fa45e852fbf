package documents

import "strings"

const defaultMaxChunkChars = 1000

type chunker struct {
	maxChars int
}

func newChunker(maxChars int) *chunker {
	if maxChars <= 0 {
		maxChars = defaultMaxChunkChars
	}
	return &chunker{maxChars: maxChars}
}

// split breaks text into sentence-aligned chunks. maxChars is a soft target
// measured in runes: a single sentence longer than the target is emitted as
// its own oversized chunk instead of being cut mid-sentence.
func (c *chunker) split(text string) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	chunks := make([]string, 0, len(sentences))
	var buffer strings.Builder
	bufferLen := 0

	for _, sentence := range sentences {
		sentenceLen := len([]rune(sentence))
		if bufferLen > 0 && bufferLen+sentenceLen > c.maxChars {
			chunks = append(chunks, buffer.String())
			buffer.Reset()
			bufferLen = 0
		}
		buffer.WriteString(sentence)
		bufferLen += sentenceLen
	}
	if bufferLen > 0 {
		chunks = append(chunks, buffer.String())
	}
	return chunks
}

func isSentenceTerminator(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	default:
		return false
	}
}

// splitSentences cuts on sentence-terminal punctuation (terminator kept with
// its sentence) and on newlines, dropping empty segments.
func splitSentences(text string) []string {
	cleaned := strings.ReplaceAll(text, "\r\n", "\n")
	cleaned = strings.ReplaceAll(cleaned, "\r", "\n")

	sentences := make([]string, 0, 16)
	var current strings.Builder

	flush := func() {
		sentence := strings.TrimSpace(current.String())
		current.Reset()
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
	}

	for _, r := range cleaned {
		if r == '\n' {
			flush()
			continue
		}
		current.WriteRune(r)
		if isSentenceTerminator(r) {
			flush()
		}
	}
	flush()

	return sentences
}
