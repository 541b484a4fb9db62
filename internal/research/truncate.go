package research

import "strings"

// TruncateWords cuts s to at most maxLen characters at a word boundary. Used
// for the 400-character query ceiling.
func TruncateWords(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}

// minRetainRatio is the minimum fraction of the target length a
// sentence-boundary truncation must retain before it is accepted over a
// hard cut.
const minRetainRatio = 0.8

// sentenceEnders are checked in order when hunting backward for a boundary.
var sentenceEnders = []byte{'.', '!', '?'}

// TruncateSentence cuts s to at most maxLen characters, preferring to end at
// a sentence boundary. If the nearest sentence boundary would retain less
// than minRetainRatio of maxLen, a hard cut is used instead and an ellipsis
// is appended.
func TruncateSentence(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	window := s[:maxLen]
	bestIdx := -1
	for i := len(window) - 1; i >= 0; i-- {
		for _, e := range sentenceEnders {
			if window[i] == e {
				bestIdx = i + 1
				break
			}
		}
		if bestIdx != -1 {
			break
		}
	}

	minRetain := int(float64(maxLen) * minRetainRatio)
	if bestIdx >= minRetain {
		return strings.TrimSpace(window[:bestIdx])
	}

	const ellipsis = "..."
	if maxLen <= len(ellipsis) {
		return window
	}
	hard := window[:maxLen-len(ellipsis)]
	if idx := strings.LastIndexByte(hard, ' '); idx > minRetain {
		hard = hard[:idx]
	}
	return strings.TrimSpace(hard) + ellipsis
}

// TruncateToFraction cuts s down to targetLen characters, preferring a
// sentence or word boundary, while never retaining less than minFraction of
// the original length. It returns ok=false when targetLen cannot be met
// without violating the floor.
func TruncateToFraction(s string, targetLen int, minFraction float64) (out string, ok bool) {
	if targetLen >= len(s) {
		return s, true
	}
	floor := int(float64(len(s)) * minFraction)
	if targetLen < floor {
		return "", false
	}
	if out = TruncateSentence(s, targetLen); len(out) >= floor {
		return out, true
	}
	// The sentence boundary fell below the floor: cut at the last word
	// boundary that still keeps it, or hard at targetLen.
	out = s[:targetLen]
	if idx := strings.LastIndexByte(out, ' '); idx >= floor {
		out = out[:idx]
	}
	return out, true
}
