package environment_test

import (
	"testing"
	"time"

	"github.com/bdobrica/kioku/common/environment"
)

func TestName(t *testing.T) {
	if got := environment.Name("ADDR"); got != "KIOKU_ADDR" {
		t.Errorf("expected KIOKU_ADDR, got %q", got)
	}
}

func TestStringOr(t *testing.T) {
	t.Setenv("TEST_STRING", "hello")
	if got := environment.StringOr("TEST_STRING", "default"); got != "hello" {
		t.Errorf("expected %q, got %q", "hello", got)
	}
	if got := environment.StringOr("TEST_STRING_MISSING", "default"); got != "default" {
		t.Errorf("expected %q, got %q", "default", got)
	}
}

func TestRequiredString(t *testing.T) {
	t.Setenv("TEST_REQUIRED", "value")
	v, err := environment.RequiredString("TEST_REQUIRED")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "value" {
		t.Errorf("expected %q, got %q", "value", v)
	}

	if _, err := environment.RequiredString("TEST_REQUIRED_MISSING"); err == nil {
		t.Error("expected error for missing variable")
	}
}

func TestBoolOr(t *testing.T) {
	t.Setenv("TEST_BOOL", "false")
	if got := environment.BoolOr("TEST_BOOL", true); got {
		t.Error("expected false")
	}
	t.Setenv("TEST_BOOL_BAD", "maybe")
	if got := environment.BoolOr("TEST_BOOL_BAD", true); !got {
		t.Error("expected default for unparsable value")
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("TEST_INT", "4000")
	if got := environment.IntOr("TEST_INT", 1); got != 4000 {
		t.Errorf("expected 4000, got %d", got)
	}
	t.Setenv("TEST_INT_BAD", "lots")
	if got := environment.IntOr("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestFloatOr(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.65")
	if got := environment.FloatOr("TEST_FLOAT", 0.8); got != 0.65 {
		t.Errorf("expected 0.65, got %v", got)
	}
	if got := environment.FloatOr("TEST_FLOAT_MISSING", 0.8); got != 0.8 {
		t.Errorf("expected default 0.8, got %v", got)
	}
}

func TestDurationOr(t *testing.T) {
	t.Setenv("TEST_DURATION", "45s")
	if got := environment.DurationOr("TEST_DURATION", time.Second); got != 45*time.Second {
		t.Errorf("expected 45s, got %v", got)
	}
}

func TestStringSliceOr(t *testing.T) {
	t.Setenv("TEST_SLICE", " a, b ,,c ")
	got := environment.StringSliceOr("TEST_SLICE", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("unexpected slice: %v", got)
	}
	t.Setenv("TEST_SLICE_EMPTY", " , ")
	if got := environment.StringSliceOr("TEST_SLICE_EMPTY", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Errorf("expected default, got %v", got)
	}
}
