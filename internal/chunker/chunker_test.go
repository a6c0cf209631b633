package chunker

import (
	"errors"
	"strings"
	"testing"

	"document-qa/internal/models"
)

// offsets recovers the rune offset of every window, assuming stride size-overlap.
func offsets(chunks []string, size, overlap int) []int {
	out := make([]int, len(chunks))
	for i := range chunks {
		out[i] = i * (size - overlap)
	}
	return out
}

func TestSplit_EmptyText(t *testing.T) {
	chunks, err := Split("", 1000, 200)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks for empty text, got %d", len(chunks))
	}
}

func TestSplit_ReferenceScenario(t *testing.T) {
	text := strings.Repeat("abcdefghij", 250) // 2500 runes

	chunks, err := Split(text, 1000, 200)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}

	wantStarts := []int{0, 800, 1600, 2400}
	for i, start := range wantStarts {
		end := min(start+1000, len(text))
		if chunks[i] != text[start:end] {
			t.Fatalf("chunk %d does not match text[%d:%d]", i, start, end)
		}
	}
	if last := chunks[3]; len(last) != 100 {
		t.Fatalf("expected short final chunk of 100 runes, got %d", len(last))
	}
}

func TestSplit_StopsAtFirstWindowReachingEnd(t *testing.T) {
	// 1000 runes: the first window already covers everything.
	chunks, err := Split(strings.Repeat("x", 1000), 1000, 200)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	// 1800 runes: window at 800 ends exactly at 1800, no window at 1600.
	chunks, err = Split(strings.Repeat("x", 1800), 1000, 200)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
}

func TestSplit_Properties(t *testing.T) {
	tests := []struct {
		name          string
		length        int
		size, overlap int
	}{
		{"shorter than window", 7, 10, 3},
		{"exact multiple", 30, 10, 0},
		{"uneven", 47, 10, 4},
		{"single rune stride", 12, 5, 4},
		{"long", 5003, 1000, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Repeat("q", tt.length)
			chunks, err := Split(text, tt.size, tt.overlap)
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			starts := offsets(chunks, tt.size, tt.overlap)
			for i := 1; i < len(starts); i++ {
				if starts[i] <= starts[i-1] {
					t.Fatalf("offsets not strictly increasing: %v", starts)
				}
			}
			lastEnd := starts[len(starts)-1] + len([]rune(chunks[len(chunks)-1]))
			if lastEnd != tt.length {
				t.Fatalf("final chunk ends at %d, want %d", lastEnd, tt.length)
			}
			for i, c := range chunks[:len(chunks)-1] {
				if len([]rune(c)) != tt.size {
					t.Fatalf("chunk %d has %d runes, want %d", i, len([]rune(c)), tt.size)
				}
			}
		})
	}
}

func TestSplit_NoOverlapCoversTextExactly(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog, again and again."
	chunks, err := Split(text, 8, 0)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if got := strings.Join(chunks, ""); got != text {
		t.Fatalf("joined chunks differ from text:\n%q\n%q", got, text)
	}
}

func TestSplit_CountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("ñ", 15) // 30 bytes, 15 runes
	chunks, err := Split(text, 10, 5)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0] != strings.Repeat("ñ", 10) || chunks[1] != strings.Repeat("ñ", 10) {
		t.Fatalf("unexpected windows: %q", chunks)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor ", 200)
	a, _ := Split(text, 300, 50)
	b, _ := Split(text, 300, 50)
	if strings.Join(a, "|") != strings.Join(b, "|") {
		t.Fatalf("Split is not deterministic")
	}
}

func TestSplit_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 10, 20},
		{"negative overlap", 10, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Split("text", tt.size, tt.overlap); !errors.Is(err, models.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
			if _, err := New(tt.size, tt.overlap); !errors.Is(err, models.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration from New, got %v", err)
			}
		})
	}
}

func TestChunkDocument_AssignsSequence(t *testing.T) {
	c, err := New(4, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	chunks := c.ChunkDocument("notes.txt", "abcdefghij")
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.SourceFilename != "notes.txt" || ch.SequenceIndex != i {
			t.Fatalf("chunk %d has wrong metadata: %+v", i, ch)
		}
	}
	if chunks[2].Part() != 3 {
		t.Fatalf("expected Part 3, got %d", chunks[2].Part())
	}
}
