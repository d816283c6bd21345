package confirm

import (
	"bytes"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func defaultSet(t *testing.T) PhraseSet {
	t.Helper()
	var set PhraseSet
	if err := yaml.NewDecoder(bytes.NewReader(defaultPhrases)).Decode(&set); err != nil {
		t.Fatalf("decode phrases: %v", err)
	}
	return set
}

func TestEveryListedPhraseClassifiesIntoItsSet(t *testing.T) {
	c := Default()
	set := defaultSet(t)

	for _, phrase := range set.Affirmative {
		got := c.Classify(phrase)
		if got.Kind != KindConfirmed || got.Confidence < 0.85 {
			t.Errorf("affirmative %q: got %+v", phrase, got)
		}
	}
	for _, phrase := range set.Negative {
		got := c.Classify(phrase)
		if got.Kind != KindRejected || got.Confidence < 0.85 {
			t.Errorf("negative %q: got %+v", phrase, got)
		}
	}
	for _, phrase := range set.Ambiguous {
		got := c.Classify(phrase)
		if got.Kind != KindAmbiguous || got.Confidence != ConfidenceAmbiguous {
			t.Errorf("ambiguous %q: got %+v", phrase, got)
		}
	}
}

func TestClassify(t *testing.T) {
	c := Default()
	cases := []struct {
		name       string
		input      string
		kind       Kind
		phrase     string
		confidence float64
	}{
		{"short yes with punctuation", "Yes!", KindConfirmed, "yes", 0.95},
		{"long affirmative", "I confirm the $600.00 purchase", KindConfirmed, "i confirm", 0.85},
		{"apostrophe stripped", "That's right.", KindConfirmed, "thats right", 0.95},
		{"negative", "Nope, cancel", KindRejected, "nope", 0.95},
		{"covered affirmative", "I'm not sure", KindAmbiguous, "im not sure", 0.70},
		{"no substring of word", "yesterday was nice", KindUnknown, "", 0.30},
		{"no substring inside word", "knowledge", KindUnknown, "", 0.30},
		{"unknown", "what colours does it come in", KindUnknown, "", 0.30},
		{"empty", "   ", KindUnknown, "", 0.30},
		{"whitespace collapsed", "  go    ahead  ", KindConfirmed, "go ahead", 0.95},
		{"negated proceed", "do not proceed", KindRejected, "do not proceed", 0.95},
		{"negated proceed contraction", "Don't proceed!", KindRejected, "dont proceed", 0.95},
		{"negated place the order", "don't place the order", KindRejected, "dont place the order", 0.85},
		{"negated place order long form", "Please do not place the order yet", KindRejected, "do not place the order", 0.85},
		{"negated confirm", "dont confirm", KindRejected, "dont confirm", 0.95},
		{"negated buy now", "don't buy now", KindRejected, "dont buy now", 0.95},
		{"negated go ahead", "do not go ahead", KindRejected, "do not go ahead", 0.95},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.input)
			if got.Kind != tc.kind || got.MatchedPhrase != tc.phrase || got.Confidence != tc.confidence {
				t.Fatalf("Classify(%q) = %+v", tc.input, got)
			}
		})
	}
}

func TestAffirmativeWinsOverNegativeWhenBothPresent(t *testing.T) {
	got := Default().Classify("yes, no")
	if got.Kind != KindConfirmed {
		t.Fatalf("expected affirmative priority, got %+v", got)
	}
}

func TestLoadRejectsOverlappingSets(t *testing.T) {
	doc := `
version: "test"
affirmative: ["ok"]
negative: ["OK!"]
ambiguous: ["maybe"]
`
	if _, err := Load(strings.NewReader(doc)); err == nil {
		t.Fatal("expected overlap error")
	}
}

func TestLoadRequiresVersion(t *testing.T) {
	doc := `
affirmative: ["ok"]
negative: ["no"]
ambiguous: ["maybe"]
`
	if _, err := Load(strings.NewReader(doc)); err == nil {
		t.Fatal("expected version error")
	}
}

func TestDefaultVersion(t *testing.T) {
	if Default().Version() != "2024.3" {
		t.Fatalf("unexpected version %q", Default().Version())
	}
}
