package speech

import (
	"strings"
	"time"
)

// Speaking rate bounds in words per minute.
const (
	MinRate     = 80
	MaxRate     = 500
	DefaultRate = 300
)

// rateSteps are the presets walked by NextRate.
var rateSteps = []int{120, 150, 180, 220, 260, 300, 350, 400, 450}

// ValidateRate returns a configuration error for rates outside the
// supported range.
func ValidateRate(wpm int) error {
	if wpm < MinRate || wpm > MaxRate {
		return NewSpeechError(ErrorCodeConfiguration, "invalid speaking rate", ErrInvalidRate).
			WithContext("rate", wpm)
	}
	return nil
}

// NextRate returns the next preset above (faster) or below the current rate.
// The current rate is returned unchanged at either end of the presets.
func NextRate(current int, faster bool) int {
	if faster {
		for _, r := range rateSteps {
			if r > current {
				return r
			}
		}
		return current
	}
	for i := len(rateSteps) - 1; i >= 0; i-- {
		if rateSteps[i] < current {
			return rateSteps[i]
		}
	}
	return current
}

// EstimateDuration estimates how long text takes to speak at wpm.
func EstimateDuration(text string, wpm int) time.Duration {
	if wpm <= 0 {
		wpm = DefaultRate
	}
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	seconds := float64(words) * 60.0 / float64(wpm)
	return time.Duration(seconds * float64(time.Second))
}
