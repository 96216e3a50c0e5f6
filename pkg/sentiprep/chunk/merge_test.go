package chunk

import (
	"math"
	"testing"

	"github.com/cognicore/sentiprep/pkg/sentiprep/model"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		votes    []Vote
		strategy Strategy
		want     model.Label
		conf     float64
	}{
		{
			name:  "single",
			votes: []Vote{{model.Negative, 0.8}},
			want:  model.Negative, conf: 0.8,
		},
		{
			name:  "weight beats count",
			votes: []Vote{{model.Positive, 0.3}, {model.Positive, 0.3}, {model.Negative, 0.9}},
			want:  model.Negative, conf: 0.9,
		},
		{
			name:     "majority beats weight",
			votes:    []Vote{{model.Positive, 0.3}, {model.Positive, 0.3}, {model.Negative, 0.9}},
			strategy: StrategyMajority,
			want:     model.Positive, conf: 0.3,
		},
		{
			name:  "equal weight broken by count",
			votes: []Vote{{model.Positive, 0.4}, {model.Positive, 0.4}, {model.Negative, 0.8}},
			want:  model.Positive, conf: 0.4,
		},
		{
			name:  "equal weight and count broken by best unit",
			votes: []Vote{{model.Positive, 0.5}, {model.Positive, 0.5}, {model.Negative, 0.9}, {model.Negative, 0.1}},
			want:  model.Negative, conf: 0.5,
		},
		{
			name:  "split does not become neutral",
			votes: []Vote{{model.Positive, 0.7}, {model.Negative, 0.7}},
			want:  model.Positive, conf: 0.7,
		},
		{
			name:  "neutral wins only on its own merit",
			votes: []Vote{{model.Neutral, 0.9}, {model.Positive, 0.6}},
			want:  model.Neutral, conf: 0.9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conf := Merge(tt.votes, tt.strategy)
			if got != tt.want {
				t.Fatalf("label = %s, want %s", got, tt.want)
			}
			if math.Abs(conf-tt.conf) > 1e-9 {
				t.Errorf("confidence = %v, want %v", conf, tt.conf)
			}
		})
	}
}

func TestMergeEmpty(t *testing.T) {
	if l, c := Merge(nil, StrategyWeighted); l != "" || c != 0 {
		t.Errorf("empty merge = %s %v", l, c)
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != StrategyWeighted {
		t.Errorf("default = %s %v", s, err)
	}
	if s, err := ParseStrategy("Majority"); err != nil || s != StrategyMajority {
		t.Errorf("majority = %s %v", s, err)
	}
	if _, err := ParseStrategy("average"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
