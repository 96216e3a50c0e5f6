package model

import "testing"

func TestMetadataOrder(t *testing.T) {
	md := Metadata{{"rating", "5"}, {"date", "2024-01-18"}, {"lang", "es"}}
	keys := md.Keys()
	want := []string{"rating", "date", "lang"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v", keys)
		}
	}
	if v, ok := md.Get("date"); !ok || v != "2024-01-18" {
		t.Errorf("Get(date) = %q, %v", v, ok)
	}
	if _, ok := md.Get("missing"); ok {
		t.Error("unexpected hit")
	}
}

func TestParseLabel(t *testing.T) {
	cases := map[string]Label{
		"Positive":  Positive,
		" negative": Negative,
		"NEUTRAL":   Neutral,
		"mixed":     Neutral,
	}
	for in, want := range cases {
		got, ok := ParseLabel(in)
		if !ok || got != want {
			t.Errorf("ParseLabel(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseLabel("angry"); ok {
		t.Error("expected no label for angry")
	}
}

func TestInferenceTextPrefersTranslation(t *testing.T) {
	u := TextUnit{Text: "Excelente servicio", TranslatedText: "Excellent service", Translated: true}
	if u.InferenceText() != "Excellent service" {
		t.Errorf("got %q", u.InferenceText())
	}
	u.Translated = false
	if u.InferenceText() != "Excelente servicio" {
		t.Errorf("got %q", u.InferenceText())
	}
}

func TestBatchJobComplete(t *testing.T) {
	job := NewBatchJob("j", []TextUnit{{ID: "a"}, {ID: "b"}})
	job.Results["a"] = InferenceResult{UnitID: "a"}
	if job.Complete() {
		t.Fatal("job should be incomplete")
	}
	job.Results["b"] = InferenceResult{UnitID: "b"}
	if !job.Complete() {
		t.Fatal("job should be complete")
	}
}

func TestSummary(t *testing.T) {
	var s Summary
	for _, l := range []Label{Positive, Positive, Negative, ""} {
		s.Add(l)
	}
	if s.Total != 4 || s.Positive != 2 || s.Negative != 1 || s.Errored != 1 || s.Neutral != 0 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if got := s.Share(Positive); got != 50 {
		t.Errorf("positive share = %v", got)
	}
	if got := (Summary{}).Share(Negative); got != 0 {
		t.Errorf("empty share = %v", got)
	}
}

func TestMetadataJSONKeepsOrder(t *testing.T) {
	m := Metadata{{Key: "rating", Value: "5"}, {Key: "date", Value: "2024-01-18"}, {Key: "a\"b", Value: ""}}
	got, err := m.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"rating":"5","date":"2024-01-18","a\"b":""}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if got, _ := (Metadata{}).MarshalJSON(); string(got) != "{}" {
		t.Errorf("empty metadata = %s", got)
	}
}

func TestMetadataUnmarshalKeepsOrder(t *testing.T) {
	var m Metadata
	if err := m.UnmarshalJSON([]byte(`{"z":"1","a":2,"nested":{"k": [1, 2]}}`)); err != nil {
		t.Fatal(err)
	}
	want := Metadata{{Key: "z", Value: "1"}, {Key: "a", Value: "2"}, {Key: "nested", Value: `{"k":[1,2]}`}}
	if len(m) != len(want) {
		t.Fatalf("got %v", m)
	}
	for i := range want {
		if m[i] != want[i] {
			t.Errorf("field %d = %+v, want %+v", i, m[i], want[i])
		}
	}
	if err := m.UnmarshalJSON([]byte(`["not", "an", "object"]`)); err == nil {
		t.Error("expected error for array")
	}
}
