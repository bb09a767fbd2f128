package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

func callSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentCallSignatures returns up to count signatures of the latest
// capability calls in chronological order.
func recentCallSignatures(turns []Turn, count int) []string {
	var sigs []string
	for i := len(turns) - 1; i >= 0 && len(sigs) < count; i-- {
		a := turns[i].Assistant
		if turns[i].Kind != TurnAssistant || a == nil {
			continue
		}
		for j := len(a.Calls) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, callSignature(a.Calls[j].Name, a.Calls[j].Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last window capability calls repeat a
// pattern of length 1, 2 or 3.
func DetectLoop(turns []Turn, window int) bool {
	if window <= 0 {
		return false
	}
	sigs := recentCallSignatures(turns, window)
	if len(sigs) < window {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if window%patternLen != 0 {
			continue
		}
		if repeats(sigs, patternLen) {
			return true
		}
	}
	return false
}

func repeats(sigs []string, patternLen int) bool {
	for i := patternLen; i < len(sigs); i++ {
		if sigs[i] != sigs[i%patternLen] {
			return false
		}
	}
	return true
}
