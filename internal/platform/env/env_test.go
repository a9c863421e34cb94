package env

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	if got := String("CARPRICE_ENV_STRING_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
	t.Setenv("CARPRICE_ENV_STRING", "value")
	if got := String("CARPRICE_ENV_STRING", "fallback"); got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestFields(t *testing.T) {
	if got := Fields("CARPRICE_ENV_FIELDS_UNSET"); got != nil {
		t.Fatalf("Fields()=%v, want nil", got)
	}
	t.Setenv("CARPRICE_ENV_FIELDS", "  python  train.py --epochs 3 ")
	got := Fields("CARPRICE_ENV_FIELDS")
	if len(got) != 4 || got[0] != "python" || got[3] != "3" {
		t.Fatalf("Fields()=%q", got)
	}
}

func TestDuration(t *testing.T) {
	got, err := Duration("CARPRICE_ENV_DURATION_UNSET", 5*time.Second)
	if err != nil || got != 5*time.Second {
		t.Fatalf("Duration()=%v err=%v, want 5s", got, err)
	}
	t.Setenv("CARPRICE_ENV_DURATION", "250ms")
	got, err = Duration("CARPRICE_ENV_DURATION", 5*time.Second)
	if err != nil || got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v err=%v, want 250ms", got, err)
	}
	t.Setenv("CARPRICE_ENV_DURATION", "not-a-duration")
	if _, err := Duration("CARPRICE_ENV_DURATION", 5*time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBool(t *testing.T) {
	got, err := Bool("CARPRICE_ENV_BOOL_UNSET", true)
	if err != nil || !got {
		t.Fatalf("Bool()=%v err=%v, want true", got, err)
	}
	t.Setenv("CARPRICE_ENV_BOOL", "false")
	got, err = Bool("CARPRICE_ENV_BOOL", true)
	if err != nil || got {
		t.Fatalf("Bool()=%v err=%v, want false", got, err)
	}
	t.Setenv("CARPRICE_ENV_BOOL", "nope")
	if _, err := Bool("CARPRICE_ENV_BOOL", false); err == nil {
		t.Fatalf("Bool() expected error")
	}
}

func TestInt(t *testing.T) {
	got, err := Int("CARPRICE_ENV_INT_UNSET", 42)
	if err != nil || got != 42 {
		t.Fatalf("Int()=%v err=%v, want 42", got, err)
	}
	t.Setenv("CARPRICE_ENV_INT", "7")
	got, err = Int("CARPRICE_ENV_INT", 42)
	if err != nil || got != 7 {
		t.Fatalf("Int()=%v err=%v, want 7", got, err)
	}
	t.Setenv("CARPRICE_ENV_INT", "nope")
	if _, err := Int("CARPRICE_ENV_INT", 42); err == nil {
		t.Fatalf("Int() expected error")
	}
}
