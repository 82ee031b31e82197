package closing

import "testing"

func TestIsClosing(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		text string
		want bool
	}{
		{"That concludes our interview today.", true},
		{"Thank you for your time today. Best of luck!", true},
		{"That's all the questions I have for you.", true},
		{"Can you tell me more?", false},
		{"Tell me about a time you led a team.", false},
		{"", false},
		{"THAT CONCLUDES OUR INTERVIEW", true},
		{"We've covered all the topics I wanted to discuss.", true},
	}

	for _, tt := range tests {
		if got := d.IsClosing(tt.text); got != tt.want {
			t.Errorf("IsClosing(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestCustomPhrases(t *testing.T) {
	d := NewDetectorWithPhrases([]string{"We Are Done"})
	if !d.IsClosing("ok, we are done here") {
		t.Error("custom phrase should match case-insensitively")
	}
	if d.IsClosing("that concludes our interview") {
		t.Error("default phrases should not apply to a custom detector")
	}
}
