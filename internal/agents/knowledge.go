// Walker knowledge: lossy fragments of conversations a walker overheard.
package agents

import "sort"

// MaxKnowledge bounds a walker's private knowledge store.
const MaxKnowledge = 40

// Clarity describes how much of an overheard line came through.
type Clarity uint8

const (
	ClarityNone Clarity = iota
	ClarityPartial
	ClarityFull
)

var clarityNames = [...]string{"none", "partial", "full"}

func (c Clarity) String() string {
	if int(c) < len(clarityNames) {
		return clarityNames[c]
	}
	return "unknown"
}

// Fragment is one overheard line.
type Fragment struct {
	Tick       uint64  `json:"tick"`
	Session    string  `json:"session"`
	Speaker    ID      `json:"speaker"`
	Text       string  `json:"text"`
	Clarity    Clarity `json:"clarity"`
	Importance float64 `json:"importance"` // 0.0–1.0
}

// Remember stores a fragment. When full, the least important fragment is
// replaced if the new one matters more.
func Remember(a *Agent, f Fragment) {
	if len(a.Knowledge) < MaxKnowledge {
		a.Knowledge = append(a.Knowledge, f)
		return
	}

	minIdx := 0
	for i := 1; i < len(a.Knowledge); i++ {
		if a.Knowledge[i].Importance < a.Knowledge[minIdx].Importance {
			minIdx = i
		}
	}
	if f.Importance > a.Knowledge[minIdx].Importance {
		a.Knowledge[minIdx] = f
	}
}

// RecentKnowledge returns up to count fragments, newest first.
func RecentKnowledge(a *Agent, count int) []Fragment {
	if len(a.Knowledge) == 0 || count <= 0 {
		return nil
	}

	sorted := make([]Fragment, len(a.Knowledge))
	copy(sorted, a.Knowledge)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Tick > sorted[j].Tick
	})

	if count > len(sorted) {
		count = len(sorted)
	}
	return sorted[:count]
}

// KnowledgeAbout returns fragments spoken by the given walker, newest first.
func KnowledgeAbout(a *Agent, speaker ID) []Fragment {
	var out []Fragment
	for _, f := range a.Knowledge {
		if f.Speaker == speaker {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tick > out[j].Tick })
	return out
}
