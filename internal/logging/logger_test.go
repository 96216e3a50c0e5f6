package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zap.AtomicLevel
		err  bool
	}{
		{"", zap.NewAtomicLevelAt(zap.InfoLevel), false},
		{"DEBUG", zap.NewAtomicLevelAt(zap.DebugLevel), false},
		{" warning ", zap.NewAtomicLevelAt(zap.WarnLevel), false},
		{"error", zap.NewAtomicLevelAt(zap.ErrorLevel), false},
		{"loud", zap.NewAtomicLevelAt(zap.InfoLevel), true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseLevel(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want.Level() {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want.Level())
		}
	}
}

func TestNew(t *testing.T) {
	for _, dev := range []bool{false, true} {
		logger, err := New("warn", dev)
		if err != nil {
			t.Fatalf("New(dev=%v): %v", dev, err)
		}
		if logger.Core().Enabled(zap.InfoLevel) {
			t.Errorf("info should be disabled at warn (dev=%v)", dev)
		}
		if !logger.Core().Enabled(zap.ErrorLevel) {
			t.Errorf("error should be enabled (dev=%v)", dev)
		}
	}
	if _, err := New("nope", false); err == nil {
		t.Error("expected error for unknown level")
	}
}
