package util

import (
	"reflect"
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"yes", false, true},
		{" ON ", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("INTAKE_TEST_BOOL", tt.val)
		if got := ParseBoolEnv("INTAKE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.val, tt.def, got, tt.want)
		}
	}
}

func TestParseListEnv(t *testing.T) {
	t.Setenv("INTAKE_TEST_LIST", " UADMIN, ,U2 ,")
	got := ParseListEnv("INTAKE_TEST_LIST")
	if !reflect.DeepEqual(got, []string{"UADMIN", "U2"}) {
		t.Errorf("ParseListEnv = %v", got)
	}
	t.Setenv("INTAKE_TEST_LIST", "  ")
	if got := ParseListEnv("INTAKE_TEST_LIST"); got != nil {
		t.Errorf("expected nil for blank list, got %v", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("INTAKE_TEST_DUR", "90m")
	if got := ParseDurationEnv("INTAKE_TEST_DUR", time.Hour); got != 90*time.Minute {
		t.Errorf("got %v", got)
	}
	for _, bad := range []string{"soon", "-5m", "0s"} {
		t.Setenv("INTAKE_TEST_DUR", bad)
		if got := ParseDurationEnv("INTAKE_TEST_DUR", time.Hour); got != time.Hour {
			t.Errorf("%q: expected default, got %v", bad, got)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("INTAKE_TEST_INT", "16")
	if got := ParseIntEnv("INTAKE_TEST_INT", 8); got != 16 {
		t.Errorf("got %d", got)
	}
	for _, bad := range []string{"many", "-1", "0"} {
		t.Setenv("INTAKE_TEST_INT", bad)
		if got := ParseIntEnv("INTAKE_TEST_INT", 8); got != 8 {
			t.Errorf("%q: expected default, got %d", bad, got)
		}
	}
}
