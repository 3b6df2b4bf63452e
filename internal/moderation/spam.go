package moderation

import (
	"strings"
	"unicode/utf8"
)

// minSpamLength is the shortest body the spam checks look at. Shorter
// bodies are left to rate limiting.
const minSpamLength = 3

type spamCheck struct {
	name  string
	match func(runes []rune) bool
}

// spamChecks are applied in order and the first match wins.
var spamChecks = []spamCheck{
	{name: "char_flood", match: hasCharFlood},
	{name: "caps_flood", match: hasCapsFlood},
	{name: "pattern_repeat", match: hasRepeatingPattern},
}

// IsSpam reports whether text trips any spam heuristic.
func IsSpam(text string) bool {
	return SpamReason(text) != ""
}

// SpamReason returns the name of the first spam check text trips, or "".
func SpamReason(text string) string {
	if utf8.RuneCountInString(text) < minSpamLength {
		return ""
	}

	runes := []rune(text)
	for _, sc := range spamChecks {
		if sc.match(runes) {
			return sc.name
		}
	}
	return ""
}

// hasCharFlood returns true if one character repeats 5 or more times in a row.
func hasCharFlood(runes []rune) bool {
	const threshold = 5

	count := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
		}
	}
	return false
}

const shoutSymbols = "!?@#$%^&*()"

// hasCapsFlood returns true for bodies written entirely in upper case,
// digits, shouting symbols and spaces where upper case letters and symbols
// make up more than 60% of the text.
func hasCapsFlood(runes []rune) bool {
	var upper, shout int
	for _, r := range runes {
		switch {
		case r >= 'A' && r <= 'Z':
			upper++
			shout++
		case strings.ContainsRune(shoutSymbols, r):
			shout++
		case r >= '0' && r <= '9', r == ' ':
		default:
			return false
		}
	}

	if upper == 0 {
		return false
	}
	return float64(shout)/float64(len(runes)) > 0.6
}

// hasRepeatingPattern returns true if a unit of at most a third of the body
// tiles the whole body at least 4 times, as in "abcabcabcabc".
func hasRepeatingPattern(runes []rune) bool {
	const minRepeats = 4

	n := len(runes)
	for size := 1; size <= n/3; size++ {
		if n%size != 0 || n/size < minRepeats {
			continue
		}
		if tiles(runes, size) {
			return true
		}
	}
	return false
}

func tiles(runes []rune, size int) bool {
	for i := size; i < len(runes); i++ {
		if runes[i] != runes[i%size] {
			return false
		}
	}
	return true
}
