package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	for _, dev := range []bool{true, false} {
		logger, err := New(dev, "warn")
		if err != nil {
			t.Fatalf("New(%v, warn) returned error: %v", dev, err)
		}
		if logger.Core().Enabled(zapcore.InfoLevel) {
			t.Fatalf("info should be disabled at warn level (dev=%v)", dev)
		}
		if !logger.Core().Enabled(zapcore.ErrorLevel) {
			t.Fatalf("error should be enabled at warn level (dev=%v)", dev)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(false, "chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
