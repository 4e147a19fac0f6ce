package synth

import (
	"strings"
	"testing"
)

func TestNoSplit(t *testing.T) {
	text := "First sentence. Second sentence. Third one!"
	chunks := NoSplit().Split(text)
	if len(chunks) != 1 || chunks[0] != text {
		t.Fatalf("expected the text as one chunk, got %v", chunks)
	}
}

func TestSentenceSplitShortStaysWhole(t *testing.T) {
	chunks := SentenceSplit(120).Split("Hello there. How are you?")
	if len(chunks) != 1 {
		t.Fatalf("short text should stay whole, got %d chunks", len(chunks))
	}
}

func TestSentenceSplitGroupsSentences(t *testing.T) {
	sentences := []string{
		"The quick brown fox jumps over the dog.",
		"A second sentence keeps the story going.",
		"Here is a third one for good measure.",
		"And a fourth to push past the budget.",
	}
	text := strings.Join(sentences, " ")

	chunks := SentenceSplit(80).Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if strings.Join(chunks, " ") != text {
		t.Fatalf("splitting lost or reordered text:\n%q", chunks)
	}
	for i, c := range chunks {
		if !strings.HasSuffix(c, ".") {
			t.Fatalf("chunk %d does not end on a sentence boundary: %q", i, c)
		}
	}
}

func TestSentenceSplitKeepsLongSentenceWhole(t *testing.T) {
	long := strings.Repeat("word ", 60)
	long = strings.TrimSpace(long)

	chunks := SentenceSplit(100).Split(long)
	if len(chunks) != 1 || chunks[0] != long {
		t.Fatalf("unpunctuated sentence should stay whole, got %d chunks", len(chunks))
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Version 3.14 is out. Yes!")
	if len(got) != 2 || got[0] != "Version 3.14 is out." || got[1] != "Yes!" {
		t.Fatalf("unexpected sentences: %q", got)
	}

	lines := splitSentences("line one\nline two")
	if len(lines) != 2 || lines[0] != "line one" || lines[1] != "line two" {
		t.Fatalf("newline split failed: %q", lines)
	}
}
