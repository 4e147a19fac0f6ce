package synth

import "strings"

// SplitPolicy decides how request text maps onto synthesis chunks.
// Chunk order is the synthesis order and the assembly order.
type SplitPolicy interface {
	Split(text string) []string
}

// SplitPolicyFunc adapts a function to the SplitPolicy interface.
type SplitPolicyFunc func(text string) []string

func (f SplitPolicyFunc) Split(text string) []string { return f(text) }

// NoSplit synthesizes the whole text as a single chunk.
func NoSplit() SplitPolicy {
	return SplitPolicyFunc(func(text string) []string {
		return []string{text}
	})
}

// SentenceSplit groups sentences into chunks of roughly chunkSize
// characters. Text shorter than 1.5x the chunk size stays whole, and a
// single sentence longer than the chunk size becomes its own chunk
// rather than being cut mid-word.
func SentenceSplit(chunkSize int) SplitPolicy {
	if chunkSize <= 0 {
		chunkSize = 120
	}
	return SplitPolicyFunc(func(text string) []string {
		trimmed := strings.TrimSpace(text)
		if len(trimmed) <= chunkSize*3/2 {
			return []string{trimmed}
		}

		var chunks []string
		var cur strings.Builder
		for _, sentence := range splitSentences(trimmed) {
			if cur.Len() > 0 && cur.Len()+1+len(sentence) > chunkSize {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(sentence)
		}
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
		}
		if len(chunks) == 0 {
			return []string{trimmed}
		}
		return chunks
	})
}

// splitSentences cuts after terminal punctuation followed by
// whitespace, and at newlines. Dotted numbers and abbreviations
// without a trailing space stay together.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '?', '!':
			if i+1 < len(text) && !isSpace(text[i+1]) {
				continue
			}
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		case '\n':
			if s := strings.TrimSpace(text[start:i]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
