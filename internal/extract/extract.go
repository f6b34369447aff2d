// Package extract turns free-form recognised text into a best-guess card name.
package extract

import (
	"strings"
	"unicode/utf8"
)

// Identifier returns the longest non-empty trimmed line of text, measured in
// characters. Ties go to the line that appears first. Blank input yields "".
//
// Rules text on a card can be longer than its title, so this is a coarse
// approximation of name detection.
func Identifier(text string) string {
	best, bestLen := "", 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if n := utf8.RuneCountInString(line); n > bestLen {
			best, bestLen = line, n
		}
	}
	return best
}
