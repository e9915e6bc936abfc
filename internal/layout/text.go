package layout

import (
	"math"
	"strings"
)

const ellipsis = "…"

// glyphWidthRatio approximates the advance of an average proportional glyph
// as a fraction of the font size.
const glyphWidthRatio = 0.55

// charsPerLine estimates how many glyphs of fontSize fit into width.
func charsPerLine(width, fontSize float64) int {
	if fontSize <= 0 {
		return 1
	}
	n := int(math.Floor(width / (fontSize * glyphWidthRatio)))
	if n < 1 {
		return 1
	}
	return n
}

// WrapText word-wraps s into at most maxLines lines of at most maxChars
// runes. Words longer than a line are broken. When text remains after the
// last line, that line ends with an ellipsis.
func WrapText(s string, maxChars, maxLines int) []string {
	if maxChars < 1 || maxLines < 1 {
		return nil
	}

	var lines []string
	var cur []rune
	flush := func() {
		lines = append(lines, string(cur))
		cur = cur[:0]
	}

	words := strings.Fields(s)
	truncated := false
	for wi := 0; wi < len(words); wi++ {
		word := []rune(words[wi])
		for len(word) > 0 {
			if len(lines) == maxLines {
				truncated = true
				break
			}
			sep := 0
			if len(cur) > 0 {
				sep = 1
			}
			switch {
			case len(cur)+sep+len(word) <= maxChars:
				if sep == 1 {
					cur = append(cur, ' ')
				}
				cur = append(cur, word...)
				word = nil
			case len(cur) > 0:
				flush()
			default:
				cur = append(cur, word[:maxChars]...)
				word = word[maxChars:]
				flush()
			}
		}
		if truncated {
			break
		}
	}
	if len(cur) > 0 {
		if len(lines) == maxLines {
			truncated = true
		} else {
			flush()
		}
	}

	if truncated && len(lines) > 0 {
		last := []rune(lines[len(lines)-1])
		if len(last) >= maxChars {
			last = last[:maxChars-1]
		}
		lines[len(lines)-1] = strings.TrimRight(string(last), " ") + ellipsis
	}
	return lines
}
