package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value    string
		def      bool
		expected bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"ON", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"off", true, false},
		{"", true, true},
		{"", false, false},
		{"maybe", true, true},
		{"maybe", false, false},
		{" true ", false, true},
	}

	for _, tt := range tests {
		t.Setenv("ZAPRELAY_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("ZAPRELAY_TEST_BOOL", tt.def); got != tt.expected {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
		}
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("ZAPRELAY_TEST_STR", "")
	if got := GetEnvOrDefault("ZAPRELAY_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	t.Setenv("ZAPRELAY_TEST_STR", "value")
	if got := GetEnvOrDefault("ZAPRELAY_TEST_STR", "fallback"); got != "value" {
		t.Errorf("expected value, got %q", got)
	}
}
