package knowledge

import "strings"

const (
	defaultChunkTarget = 1000
	minSectionChars    = 100
	overlapLines       = 3
)

// Chunk is one indexed span of a source document.
type Chunk struct {
	Text    string
	Heading string
}

// Chunker splits extracted text into heading-grouped chunks. A short
// all-uppercase line starts a new section; long sections are split near the
// target size with a small line overlap so context survives the boundary.
type Chunker struct {
	TargetSize int
}

func NewChunker() *Chunker {
	return &Chunker{TargetSize: defaultChunkTarget}
}

func isHeadingLine(line string) bool {
	if len(line) >= 60 {
		return false
	}
	hasLetter := false
	for _, r := range line {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			hasLetter = true
		}
	}
	return hasLetter
}

// Split chunks plain text. Blank lines separate paragraphs but never force a
// chunk boundary on their own.
func (c *Chunker) Split(text string) []Chunk {
	target := c.TargetSize
	if target <= 0 {
		target = defaultChunkTarget
	}

	var chunks []Chunk
	var current []string
	currentLen := 0
	heading := "General"

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Text: strings.Join(current, "\n"), Heading: heading})
	}

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		if isHeadingLine(line) {
			if len(current) > 0 && currentLen > minSectionChars {
				flush()
				current = nil
				currentLen = 0
			}
			heading = line
			current = append(current, "## "+line)
			currentLen += len(line)
			continue
		}

		current = append(current, line)
		currentLen += len(line)

		if currentLen > target {
			flush()
			var keep []string
			if len(current) > overlapLines {
				keep = current[len(current)-overlapLines:]
			}
			current = keep
			currentLen = 0
			for _, l := range keep {
				currentLen += len(l)
			}
		}
	}
	flush()
	return chunks
}
