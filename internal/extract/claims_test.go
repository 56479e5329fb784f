package extract

import (
	"testing"
)

func TestClaimExtractor_Figures(t *testing.T) {
	text := "The federal deficit reached $1.8 trillion last year. " +
		"Unemployment held at 3.9% through the spring. " +
		"Join us at the town hall on Saturday afternoon."

	claims := NewClaimExtractor().Extract(text)
	if len(claims) != 2 {
		t.Fatalf("expected 2 claims, got %d: %v", len(claims), claims)
	}
	if claims[1] != "Unemployment held at 3.9% through the spring." {
		t.Errorf("expected decimal to stay inside the sentence, got %q", claims[1])
	}
}

func TestClaimExtractor_Keywords(t *testing.T) {
	text := "According to the county clerk, turnout was the highest in decades. " +
		"Please share this post with your friends today."

	claims := NewClaimExtractor().Extract(text)
	if len(claims) != 1 {
		t.Fatalf("expected 1 claim, got %v", claims)
	}
}

func TestClaimExtractor_Dedupe(t *testing.T) {
	text := "Prices increased sharply this quarter. prices increased sharply this quarter."
	if claims := NewClaimExtractor().Extract(text); len(claims) != 1 {
		t.Errorf("expected duplicates collapsed, got %v", claims)
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		count int
	}{
		{"two sentences", "This is the first sentence here. This is the second sentence here.", 2},
		{"short fragments dropped", "Hi. Ok. Yes.", 0},
		{"question and exclamation", "Did the budget pass this week? It passed with bipartisan support!", 2},
		{"no terminator", "A sentence without any terminator at all", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitSentences(tt.text); len(got) != tt.count {
				t.Errorf("expected %d sentences, got %d: %v", tt.count, len(got), got)
			}
		})
	}
}
