package nlp

import (
	"testing"
)

func TestSpanPatterns(t *testing.T) {
	e := New()

	tests := []struct {
		text string
		want []string
	}{
		{"Please send the deck before Friday.", []string{"DEADLINE", "REQUEST"}},
		{"Your invoice is attached.", []string{"TRANSACTION"}},
		{"Click here to unsubscribe.", []string{"UNSUBSCRIBE"}},
		{"Nice to see you.", nil},
		{"The flight was delayed due to weather.", nil},
		{"Rent is due on the 1st.", []string{"DEADLINE"}},
		{"The report is due by noon.", []string{"DEADLINE"}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			var got []string
			for _, ent := range e.matchSpans(tt.text) {
				got = append(got, ent.Label)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("labels = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("labels = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	e := New()
	a, err := e.Analyze("Can you review the budget by Friday?")
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Tokens) == 0 || len(a.Tokens) != len(a.POS) {
		t.Fatalf("tokens %d, pos %d", len(a.Tokens), len(a.POS))
	}

	var sawRequest bool
	for _, ent := range a.Entities {
		if ent.Label == "REQUEST" {
			sawRequest = true
		}
	}
	if !sawRequest {
		t.Errorf("expected a REQUEST entity in %v", a.Entities)
	}
}

func TestTagReturnsTokens(t *testing.T) {
	if toks := New().Tag("Send the report."); len(toks) == 0 {
		t.Fatal("expected tokens")
	}
}
