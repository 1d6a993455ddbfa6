package logger

import (
	"os"
	"sync/atomic"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestDomainCounters(t *testing.T) {
	beforeOK := atomic.LoadInt64(&estimatesOK)
	beforeErr := atomic.LoadInt64(&estimatesErr)
	beforeGaps := atomic.LoadInt64(&gapsDetected)

	IncrementEstimate(true)
	IncrementEstimate(false)
	IncrementGap()
	IncrementResync()
	IncrementUpdateApplied()

	if got := atomic.LoadInt64(&estimatesOK); got != beforeOK+1 {
		t.Errorf("estimatesOK = %d, want %d", got, beforeOK+1)
	}
	if got := atomic.LoadInt64(&estimatesErr); got != beforeErr+1 {
		t.Errorf("estimatesErr = %d, want %d", got, beforeErr+1)
	}
	if got := atomic.LoadInt64(&gapsDetected); got != beforeGaps+1 {
		t.Errorf("gapsDetected = %d, want %d", got, beforeGaps+1)
	}
}

func TestChannelStats(t *testing.T) {
	IncrementFrameRead(128)
	v, ok := channels.Load("feed_ws")
	if !ok {
		t.Fatal("feed_ws channel stat missing")
	}
	cs := v.(*channelStat)
	if atomic.LoadInt64(&cs.messages) == 0 || atomic.LoadInt64(&cs.bytes) < 128 {
		t.Fatalf("unexpected channel stat: %+v", cs)
	}
}
