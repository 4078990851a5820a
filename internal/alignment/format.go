// Package alignment merges transcript segments with diarization turns.
//
// A segment is attributed to the first turn, in the order the turns were
// given, whose closed interval [start, end] contains either the segment's
// start or its end. Segments with no such turn are unattributed. The
// formatted transcript emits one line per segment and an extra blank line
// each time the attributed speaker changes. Speaker labels never appear in
// the output.
package alignment

import (
	"sort"
	"strings"

	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// Speaker is the attribution of one segment. The zero value means no turn
// matched.
type Speaker struct {
	Label string
	Known bool
}

// TurnIndex answers "which turn owns this segment" in O(log n + k) for
// chronological turns, with the same result as scanning turns front to back.
type TurnIndex struct {
	turns  []types.Turn
	order  []int     // positions into turns, sorted by start
	starts []float64 // turns[order[i]].Start
	maxEnd []float64 // max end over order[0..i]
}

// NewTurnIndex builds an index over turns. The slice is not modified.
func NewTurnIndex(turns []types.Turn) *TurnIndex {
	idx := &TurnIndex{
		turns:  turns,
		order:  make([]int, len(turns)),
		starts: make([]float64, len(turns)),
		maxEnd: make([]float64, len(turns)),
	}
	for i := range turns {
		idx.order[i] = i
	}
	sort.SliceStable(idx.order, func(a, b int) bool {
		return turns[idx.order[a]].Start < turns[idx.order[b]].Start
	})
	for i, pos := range idx.order {
		idx.starts[i] = turns[pos].Start
		idx.maxEnd[i] = turns[pos].End
		if i > 0 && idx.maxEnd[i-1] > idx.maxEnd[i] {
			idx.maxEnd[i] = idx.maxEnd[i-1]
		}
	}
	return idx
}

// Len returns the number of indexed turns.
func (idx *TurnIndex) Len() int { return len(idx.turns) }

// firstContaining returns the smallest original position among turns whose
// interval contains t, or -1.
func (idx *TurnIndex) firstContaining(t float64) int {
	// Turns after hi start later than t and cannot contain it.
	hi := sort.Search(len(idx.starts), func(i int) bool { return idx.starts[i] > t })
	best := -1
	for i := hi - 1; i >= 0; i-- {
		if idx.maxEnd[i] < t {
			// No turn at or before i reaches t.
			break
		}
		pos := idx.order[i]
		if idx.turns[pos].End >= t && (best < 0 || pos < best) {
			best = pos
		}
	}
	return best
}

// SpeakerFor attributes a segment to the first turn containing its start or
// its end.
func (idx *TurnIndex) SpeakerFor(seg types.Segment) Speaker {
	pos := idx.firstContaining(seg.Start)
	if p := idx.firstContaining(seg.End); p >= 0 && (pos < 0 || p < pos) {
		pos = p
	}
	if pos < 0 {
		return Speaker{}
	}
	return Speaker{Label: idx.turns[pos].Speaker, Known: true}
}

// Result is a formatted transcript plus counters describing it.
type Result struct {
	Text           string
	SpeakerChanges int
}

// Format merges segments with turns. Segment text is trimmed and written on
// its own line; a blank line separates consecutive segments whose speakers
// differ. No blank line is ever written before the first line.
func Format(segments []types.Segment, turns []types.Turn) Result {
	idx := NewTurnIndex(turns)

	var b strings.Builder
	var previous Speaker
	changes := 0
	for _, seg := range segments {
		current := idx.SpeakerFor(seg)
		if current != previous {
			if b.Len() > 0 {
				b.WriteString("\n")
				changes++
			}
			previous = current
		}
		b.WriteString(strings.TrimSpace(seg.Text))
		b.WriteString("\n")
	}
	return Result{Text: b.String(), SpeakerChanges: changes}
}

// FormatTranscriptWithSpeakers returns only the formatted text.
func FormatTranscriptWithSpeakers(segments []types.Segment, turns []types.Turn) string {
	return Format(segments, turns).Text
}
