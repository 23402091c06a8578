package output

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// TimestampLayout is the artifact name layout, YYYYMMDD-HHMMSS
const TimestampLayout = "20060102-150405"

// Namer derives artifact file names from the start timestamp.
// Two names requested within the same second get a numeric suffix.
type Namer struct {
	now func() time.Time

	mu   sync.Mutex
	last string
	seq  int
}

// NewNamer creates a namer using clock, or time.Now when clock is nil
func NewNamer(clock func() time.Time) *Namer {
	if clock == nil {
		clock = time.Now
	}
	return &Namer{now: clock}
}

// Next returns a new name with the given extension
func (n *Namer) Next(ext string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	stamp := n.now().Format(TimestampLayout)
	base := stamp
	if stamp == n.last {
		n.seq++
		base = fmt.Sprintf("%s-%d", stamp, n.seq)
	} else {
		n.last = stamp
		n.seq = 0
	}

	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return base
	}
	return base + "." + ext
}
