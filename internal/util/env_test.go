package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("CR_TEST_BOOL", "yes")
	if !ParseBoolEnv("CR_TEST_BOOL", false) {
		t.Error("expected 'yes' to parse as true")
	}
	t.Setenv("CR_TEST_BOOL", "OFF")
	if ParseBoolEnv("CR_TEST_BOOL", true) {
		t.Error("expected 'OFF' to parse as false")
	}
	t.Setenv("CR_TEST_BOOL", "garbage")
	if !ParseBoolEnv("CR_TEST_BOOL", true) {
		t.Error("expected invalid value to return default")
	}
	if ParseBoolEnv("CR_TEST_BOOL_UNSET", false) {
		t.Error("expected unset variable to return default")
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("CR_TEST_DUR", "750ms")
	if got := ParseDurationEnv("CR_TEST_DUR", time.Second); got != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %v", got)
	}
	t.Setenv("CR_TEST_DUR", "not-a-duration")
	if got := ParseDurationEnv("CR_TEST_DUR", 2*time.Second); got != 2*time.Second {
		t.Errorf("expected default 2s for invalid value, got %v", got)
	}
	if got := ParseDurationEnv("CR_TEST_DUR_UNSET", 30*time.Minute); got != 30*time.Minute {
		t.Errorf("expected default 30m for unset variable, got %v", got)
	}
}
