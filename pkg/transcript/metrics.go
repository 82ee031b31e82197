package transcript

import (
	"math"
	"regexp"
	"strings"
	"sync"
	"time"
)

// fillerVocabulary is the fixed set of filler words tracked during a
// session, matched case-insensitively on whole-word boundaries.
var fillerVocabulary = []string{
	"um", "uh", "like", "you know", "so", "actually", "basically",
	"literally", "i mean", "kind of", "sort of", "really",
}

var fillerPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(fillerVocabulary))
	for i, w := range fillerVocabulary {
		patterns[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)
	}
	return patterns
}()

// Metrics holds the behavioral metrics derived from a session's user turns.
// All values are monotonic for the lifetime of a session.
type Metrics struct {
	// FillerWordCount is the total number of filler-word occurrences.
	FillerWordCount int `json:"fillerWordCount"`
	// TotalWordsSpoken counts whitespace-delimited words in user turns.
	TotalWordsSpoken int `json:"totalWordsSpoken"`
	// TotalSpeakingTimeSeconds is accumulated answer time, floored at one
	// second per turn.
	TotalSpeakingTimeSeconds int `json:"totalSpeakingTime"`
	// WordsPerMinute is the derived speaking rate.
	WordsPerMinute int `json:"wordsPerMinute"`
	// FillerWordsDetected lists each vocabulary word once, in
	// first-detection order.
	FillerWordsDetected []string `json:"fillerWordsDetected"`
}

// Accumulator incrementally derives Metrics from speaker-attributed text
// fragments in O(fragment length), without ever re-scanning history.
//
// Timing comes from entry timestamps rather than the wall clock, so
// replaying a checkpoint's transcript reproduces the same metrics
// bit-for-bit. Fragments must be processed in ledger order.
// Accumulator is safe for concurrent use.
type Accumulator struct {
	mu          sync.Mutex
	m           Metrics
	answerStart time.Time
	seen        map[string]bool
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{seen: make(map[string]bool)}
}

// ProcessEntry feeds one ledger entry to the accumulator.
func (a *Accumulator) ProcessEntry(e Entry) {
	a.Process(e.Speaker, e.Text, e.Time())
}

// Process updates metrics from a speaker-attributed fragment observed at
// the given time. Agent fragments mark the start of the next answer; user
// fragments contribute words, filler hits and speaking time.
func (a *Accumulator) Process(speaker Speaker, text string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if speaker == SpeakerAgent {
		a.answerStart = at
		return
	}

	a.m.TotalWordsSpoken += len(strings.Fields(text))
	a.countFillers(text)

	elapsed := 0
	if !a.answerStart.IsZero() {
		elapsed = int(at.Sub(a.answerStart).Seconds())
	}
	if elapsed < 1 {
		elapsed = 1
	}
	a.m.TotalSpeakingTimeSeconds += elapsed
	a.answerStart = at

	a.m.WordsPerMinute = int(math.Round(
		float64(a.m.TotalWordsSpoken) / float64(a.m.TotalSpeakingTimeSeconds) * 60))
}

func (a *Accumulator) countFillers(text string) {
	lower := strings.ToLower(text)
	for i, pat := range fillerPatterns {
		n := len(pat.FindAllStringIndex(lower, -1))
		if n == 0 {
			continue
		}
		a.m.FillerWordCount += n
		if !a.seen[fillerVocabulary[i]] {
			a.seen[fillerVocabulary[i]] = true
			a.m.FillerWordsDetected = append(a.m.FillerWordsDetected, fillerVocabulary[i])
		}
	}
}

// Snapshot returns a copy of the current metrics.
func (a *Accumulator) Snapshot() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.m
	out.FillerWordsDetected = make([]string, len(a.m.FillerWordsDetected))
	copy(out.FillerWordsDetected, a.m.FillerWordsDetected)
	return out
}

// Restore hydrates the accumulator from checkpointed metrics, e.g. when
// resuming a paused or interrupted session.
func (a *Accumulator) Restore(m Metrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m = m
	a.m.FillerWordsDetected = make([]string, len(m.FillerWordsDetected))
	copy(a.m.FillerWordsDetected, m.FillerWordsDetected)
	a.seen = make(map[string]bool, len(m.FillerWordsDetected))
	for _, w := range m.FillerWordsDetected {
		a.seen[w] = true
	}
	a.answerStart = time.Time{}
}

// Reset clears all accumulated state for a fresh session.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m = Metrics{}
	a.seen = make(map[string]bool)
	a.answerStart = time.Time{}
}

// Replay computes metrics from scratch for an ordered transcript. Replaying
// a checkpoint's transcript yields metrics identical to the ones accumulated
// incrementally during the original session.
func Replay(entries []Entry) Metrics {
	acc := NewAccumulator()
	for _, e := range entries {
		acc.ProcessEntry(e)
	}
	return acc.Snapshot()
}
