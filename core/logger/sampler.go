package logger

import (
	"strconv"
	"strings"
	"sync"
)

// ratioSampler admits keep-out-of-window events in a repeating cycle. It
// throttles the per-message debug lines (queue acceptance, send
// confirmations) that scale with chat traffic, while zero ratio means no
// sampling at all.
type ratioSampler struct {
	mu     sync.Mutex
	keep   int
	window int
	pos    int
}

func newRatioSampler(keep, window int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(keep, window)
	return s
}

// Set configures the ratio to keep events per window. Non-positive values
// disable sampling; keep is clamped to the window.
func (s *ratioSampler) Set(keep, window int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keep <= 0 || window <= 0 {
		s.keep, s.window, s.pos = 0, 0, 0
		return
	}
	if keep > window {
		keep = window
	}
	s.keep = keep
	s.window = window
	s.pos = 0
}

// Allow reports whether the current event falls in the kept part of the
// cycle. With sampling disabled every event passes.
func (s *ratioSampler) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window <= 0 || s.keep <= 0 {
		return true
	}
	s.pos++
	if s.pos > s.window {
		s.pos = 1
	}
	return s.pos <= s.keep
}

// parseRatioSpec reads a sampling ratio from config text. "1/50" keeps one
// event in fifty, a bare "50" is shorthand for 1/50, and anything else
// disables sampling.
func parseRatioSpec(text string) (int, int) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return 0, 0
	case strings.Contains(text, "/"):
		parts := strings.SplitN(text, "/", 2)
		keep, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		window, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 == nil && err2 == nil {
			return keep, window
		}
		return 0, 0
	default:
		if v, err := strconv.Atoi(text); err == nil && v > 0 {
			return 1, v
		}
		return 0, 0
	}
}
