// Package closing detects natural end-of-interview phrasing in agent
// utterances so the session can terminate automatically.
package closing

import "strings"

// defaultPhrases are the hand-curated closing phrases. False negatives are
// acceptable (the candidate can always end manually); the list is
// deliberately conservative to limit false positives.
var defaultPhrases = []string{
	"that concludes our interview",
	"concludes our interview",
	"thank you for your time today",
	"best of luck",
	"that's all the questions i have",
	"that's all the questions",
	"end of our interview",
	"interview is complete",
	"we've covered all",
}

// Detector is a stateless classifier for closing statements.
type Detector struct {
	phrases []string
}

// NewDetector creates a detector with the default phrase list.
func NewDetector() *Detector {
	return &Detector{phrases: defaultPhrases}
}

// NewDetectorWithPhrases creates a detector with a custom phrase list.
// Phrases are matched case-insensitively by containment.
func NewDetectorWithPhrases(phrases []string) *Detector {
	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(p)
	}
	return &Detector{phrases: lowered}
}

// IsClosing reports whether the utterance contains a closing phrase.
func (d *Detector) IsClosing(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range d.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
