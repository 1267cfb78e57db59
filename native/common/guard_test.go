package common

import (
	"errors"
	"testing"
)

func TestGuardNilView(t *testing.T) {
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("expected nil view to allow calls, got %v", err)
	}
}

func TestPauseSwitch(t *testing.T) {
	sw := NewPauseSwitch(" Lending ")
	if err := Guard(sw, "lending"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	sw.Set("lending", false)
	if err := Guard(sw, "lending"); err != nil {
		t.Fatalf("expected resumed module, got %v", err)
	}
	sw.Set("", true)
	if sw.IsPaused("") {
		t.Fatalf("empty module names must be ignored")
	}
}
