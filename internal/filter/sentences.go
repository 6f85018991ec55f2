package filter

import (
	"strings"
	"unicode"
)

// abbreviations never end a sentence even when followed by a space.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true, "sr": true, "jr": true,
	"st": true, "vs": true, "etc": true, "inc": true, "ltd": true, "co": true,
	"e.g": true, "i.e": true, "approx": true, "no": true, "jan": true, "feb": true,
	"mar": true, "apr": true, "jun": true, "jul": true, "aug": true, "sep": true,
	"sept": true, "oct": true, "nov": true, "dec": true,
}

// collapseWhitespace turns every run of whitespace into a single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// maxJoinedWords bounds the line that may be glued to a preceding line
// ending in a comma.
const maxJoinedWords = 3

// segment splits text into sentences. Line breaks are boundaries unless the
// line ends with a comma and the next line is a short name ("Best
// regards,\nSarah"); within a line a sentence ends at '.', '!' or '?' (plus
// trailing quotes or brackets) followed by a space. Whitespace inside each
// sentence is collapsed.
func segment(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var out []string
	pending := ""
	flush := func() {
		if pending != "" {
			out = append(out, splitLine(pending)...)
			pending = ""
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = collapseWhitespace(line)
		if line == "" {
			flush()
			continue
		}
		if pending != "" && len(strings.Fields(line)) <= maxJoinedWords {
			pending += " " + line
		} else {
			flush()
			pending = line
		}
		if !strings.HasSuffix(pending, ",") {
			flush()
		}
	}
	flush()
	return out
}

func splitLine(line string) []string {
	var out []string
	runes := []rune(line)
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && (isTerminator(runes[end]) || isCloser(runes[end])) {
			end++
		}
		if end < len(runes) && runes[end] != ' ' {
			i = end - 1
			continue
		}
		if runes[i] == '.' && isAbbreviation(runes[start:i]) {
			i = end - 1
			continue
		}

		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
		i = end - 1
	}

	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminator(r rune) bool { return r == '.' || r == '!' || r == '?' }

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
}

// isAbbreviation reports whether the word right before a period is a
// known abbreviation or a single letter initial.
func isAbbreviation(before []rune) bool {
	j := len(before)
	for j > 0 && !unicode.IsSpace(before[j-1]) {
		j--
	}
	word := strings.ToLower(strings.TrimLeft(string(before[j:]), "(\"'"))
	if word == "" {
		return false
	}
	if len([]rune(word)) == 1 && unicode.IsLetter([]rune(word)[0]) {
		return true
	}
	return abbreviations[word]
}
