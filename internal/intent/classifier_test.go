package intent

import "testing"

func TestClassify_PerformanceQueries(t *testing.T) {
	c := NewKeywordClassifier()

	queries := []string{
		"What is the performance of US market indices for this quarter?",
		"Show me top 5 asset performances for the month",
		"What was the YEAR-TO-DATE growth of tech funds?",
		"Which indices had the best returns?",
		"What is the ROI on energy assets?",
		"How did small caps perform in Q3?",
	}
	for _, q := range queries {
		if !c.Classify(q) {
			t.Errorf("Classify(%q) = false, want true", q)
		}
	}
}

func TestClassify_NonPerformanceQueries(t *testing.T) {
	c := NewKeywordClassifier()

	queries := []string{
		"List all customer addresses",
		"Show me the valuation types available.",
		"What is the frequency of Asset in the database?",
		"",
	}
	for _, q := range queries {
		if c.Classify(q) {
			t.Errorf("Classify(%q) = true, want false", q)
		}
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	c := NewKeywordClassifier()
	if !c.Classify("TOP PERFORMANCE THIS QUARTER") {
		t.Error("uppercase query not matched")
	}
	if !c.Classify("roi of bonds") {
		t.Error("lowercase roi not matched")
	}
}
