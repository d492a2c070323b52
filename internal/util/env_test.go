package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("KOLPINGBOT_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("KOLPINGBOT_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 4},
		{"8", 8},
		{" 2 ", 2},
		{"0", 4},
		{"-3", 4},
		{"vier", 4},
	}
	for _, tt := range tests {
		t.Setenv("KOLPINGBOT_TEST_INT", tt.value)
		if got := ParseIntEnv("KOLPINGBOT_TEST_INT", 4); got != tt.want {
			t.Errorf("ParseIntEnv(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Hour},
		{"30m", 30 * time.Minute},
		{"soon", time.Hour},
		{"-1s", time.Hour},
	}
	for _, tt := range tests {
		t.Setenv("KOLPINGBOT_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("KOLPINGBOT_TEST_DURATION", time.Hour); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
