package chunker

import "strings"

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
	// MinChunkLen drops fragments too short to carry any meaning; they
	// only add noise to retrieval.
	MinChunkLen = 20
)

// Split cuts text into overlapping windows. Window i starts at
// i*(size-overlap) and runs for size runes; the last window may be
// shorter. Output is deterministic for a given input.
func Split(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Work in runes so we never cut a UTF-8 sequence in half.
	r := []rune(text)

	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	out := make([]string, 0, (len(r)/step)+1)
	for start := 0; start < len(r); start += step {
		end := start + size
		if end > len(r) {
			end = len(r)
		}

		p := strings.TrimSpace(string(r[start:end]))
		if len([]rune(p)) >= MinChunkLen {
			out = append(out, p)
		}

		if end == len(r) {
			break
		}
	}

	return out
}
