// Package grounding scores how well an answer is supported by its retrieval context,
// using token-set Jaccard overlap over a normalization that canonicalizes clock times.
package grounding

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

var (
	// a.m. / p.m. / a. m. collapse to am / pm before time matching.
	dottedMeridiem = regexp.MustCompile(`\b([ap])\.\s?m\b\.?`)
	// hour, then either '.' minutes with a required meridiem, or optional minutes after ':'
	// or 'h' (seconds consumed and dropped) with an optional meridiem. Input is already
	// lowercase. The dotted form needs a meridiem so decimals such as 9.50 are left alone.
	clockTime = regexp.MustCompile(`\b(\d{1,2})(?:\.(\d{2})\s*([ap])m|(?:[:h](\d{2})(?::\d{2})?)?(?:\s*([ap])m)?)\b`)
)

// Normalize lowercases text, canonicalizes clock times to the form 09:00am, replaces every
// character other than letters, digits and ':' with a space, and returns the resulting
// whitespace-delimited tokens in order. Colons at token edges are dropped.
func Normalize(text string) []string {
	s := strings.ToLower(text)
	s = dottedMeridiem.ReplaceAllString(s, "${1}m")
	s = canonicalizeTimes(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' {
			return r
		}
		return ' '
	}, s)

	fields := strings.Fields(s)
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ":")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// NormalizeString is Normalize joined with single spaces.
func NormalizeString(text string) string {
	return strings.Join(Normalize(text), " ")
}

// canonicalizeTimes rewrites every clock time in s in a single pass, so replaced text is
// never rescanned.
func canonicalizeTimes(s string) string {
	matches := clockTime.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		hour := s[m[2]:m[3]]
		minutes, meridiem := submatch(s, m, 2), submatch(s, m, 3)
		if minutes == "" {
			minutes, meridiem = submatch(s, m, 4), submatch(s, m, 5)
		}
		if canon, ok := canonicalTime(hour, minutes, meridiem); ok {
			b.WriteString(canon)
		} else {
			b.WriteString(s[m[0]:m[1]])
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

func submatch(s string, m []int, group int) string {
	if m[2*group] < 0 {
		return ""
	}
	return s[m[2*group]:m[2*group+1]]
}

// canonicalTime formats a matched time as hh:mm plus am/pm. A bare number (no minutes and
// no meridiem) is not a time. Without a meridiem the hour is read on a 24-hour clock.
func canonicalTime(hourText, minuteText, meridiem string) (string, bool) {
	if minuteText == "" && meridiem == "" {
		return "", false
	}
	hour, err := strconv.Atoi(hourText)
	if err != nil {
		return "", false
	}
	minute := 0
	if minuteText != "" {
		if minute, err = strconv.Atoi(minuteText); err != nil || minute > 59 {
			return "", false
		}
	}

	switch meridiem {
	case "a", "p":
		if hour < 1 || hour > 12 {
			return "", false
		}
	default:
		switch {
		case hour > 23:
			return "", false
		case hour == 0:
			hour, meridiem = 12, "a"
		case hour < 12:
			meridiem = "a"
		case hour == 12:
			meridiem = "p"
		default:
			hour, meridiem = hour-12, "p"
		}
	}
	return fmt.Sprintf("%02d:%02d%sm", hour, minute, meridiem), true
}

// TokenSet returns the distinct normalized tokens of text, sorted.
func TokenSet(text string) []string {
	return sortedSet(toSet(Normalize(text)))
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
