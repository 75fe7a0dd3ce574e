package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"ON", false, true},
		{"false", true, false},
		{"0", true, false},
		{"off", true, false},
		{"", true, true},
		{"", false, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tc := range cases {
		t.Setenv("LEADPIPE_TEST_BOOL", tc.value)
		if got := ParseBoolEnv("LEADPIPE_TEST_BOOL", tc.defaultValue); got != tc.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tc.value, tc.defaultValue, got, tc.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	cases := []struct {
		value        string
		defaultValue int
		want         int
	}{
		{"8080", 0, 8080},
		{" 42 ", 0, 42},
		{"", 7, 7},
		{"abc", 7, 7},
	}
	for _, tc := range cases {
		t.Setenv("LEADPIPE_TEST_INT", tc.value)
		if got := ParseIntEnv("LEADPIPE_TEST_INT", tc.defaultValue); got != tc.want {
			t.Errorf("ParseIntEnv(%q, %d) = %d, want %d", tc.value, tc.defaultValue, got, tc.want)
		}
	}
}

func TestFirstNonEmptyEnv(t *testing.T) {
	t.Setenv("LEADPIPE_TEST_A", "")
	t.Setenv("LEADPIPE_TEST_B", "second")
	if got := FirstNonEmptyEnv("LEADPIPE_TEST_A", "LEADPIPE_TEST_B"); got != "second" {
		t.Errorf("expected 'second', got %q", got)
	}
	if got := FirstNonEmptyEnv("LEADPIPE_TEST_A"); got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
}
