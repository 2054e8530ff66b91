// Package retrieval turns uploaded documents into context: fixed-window
// chunking, an immutable in-memory vector index swapped atomically on
// rebuild, and an engine that resolves a settings snapshot into window
// documents plus top-K chunks for a query.
package retrieval

// Split cuts text into rune-window chunks of at most size runes, with each
// chunk after the first starting overlap runes before the previous chunk's
// end. The window that reaches the end of the text is the last one emitted;
// no trailing window repeating already-covered runes follows it. Whitespace-
// only chunks are dropped. Overlap values that would stall the window are
// clamped.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[start:end])
		if !isBlank(chunk) {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
