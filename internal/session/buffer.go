package session

// lineBuffer is a fixed-capacity ring of output lines. When full, writing a
// new line evicts the oldest. Not safe for concurrent use; the owning
// Session serializes access.
type lineBuffer struct {
	lines []string
	size  int
	start int
	count int
}

func newLineBuffer(size int) *lineBuffer {
	if size <= 0 {
		size = 1
	}
	return &lineBuffer{
		lines: make([]string, size),
		size:  size,
	}
}

func (b *lineBuffer) Append(line string) {
	end := (b.start + b.count) % b.size
	b.lines[end] = line
	if b.count == b.size {
		b.start = (b.start + 1) % b.size
	} else {
		b.count++
	}
}

// Lines returns the buffered lines oldest first.
func (b *lineBuffer) Lines() []string {
	out := make([]string, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.lines[(b.start+i)%b.size])
	}
	return out
}

func (b *lineBuffer) Len() int { return b.count }
