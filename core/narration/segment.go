package narration

import "strings"

// Chunk is one sentence-scale unit of narration, the atomic unit of fetch
// and playback. Indices are contiguous from 0.
type Chunk struct {
	Index int
	Text  string
}

// terminators close a chunk. A plain period is deliberately not one, it
// would fragment abbreviations and version numbers mid-sentence.
const terminators = "。！？!?\n"

// Split breaks text into ordered narration chunks, closing one at every
// sentence-terminal character and emitting any trailing content as a final
// chunk. Whitespace-only input yields no chunks, the caller decides what to
// narrate instead.
func Split(text string) []Chunk {
	var chunks []Chunk
	var current strings.Builder

	flush := func() {
		piece := strings.TrimSpace(current.String())
		current.Reset()
		if piece == "" {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: piece})
	}

	for _, r := range text {
		current.WriteRune(r)
		if strings.ContainsRune(terminators, r) {
			flush()
		}
	}
	flush()

	return chunks
}
