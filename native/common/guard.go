package common

import (
	"errors"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view never pauses.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSwitch is a PauseView toggled by operators at runtime.
type PauseSwitch struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseSwitch returns a switch with the listed modules paused.
func NewPauseSwitch(paused ...string) *PauseSwitch {
	s := &PauseSwitch{paused: make(map[string]bool)}
	for _, module := range paused {
		s.Set(module, true)
	}
	return s
}

// Set pauses or resumes a module.
func (s *PauseSwitch) Set(module string, paused bool) {
	if s == nil {
		return
	}
	module = strings.ToLower(strings.TrimSpace(module))
	if module == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[module] = true
		return
	}
	delete(s.paused, module)
}

func (s *PauseSwitch) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[strings.ToLower(strings.TrimSpace(module))]
}
