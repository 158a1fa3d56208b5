// Package latex post-processes extracted question text so that mathematical
// and chemical expressions are wrapped in inline-math delimiters. The
// extraction model is unreliable about emitting delimiters consistently, so
// this stage repairs the common omissions.
//
// This is best-effort text munging, not a LaTeX parser. It tolerates false
// positives on adversarial input (for example a stray "$" in prose shifts
// the math/non-math segmentation); the transform only ever moves text closer
// to valid delimiting and is idempotent.
package latex

import (
	"regexp"
	"strings"
)

// mechanismRe matches reaction-mechanism shorthand like SN1, SN2, E1, E2.
var mechanismRe = regexp.MustCompile(`\b(SN|SE|E)([12])\b`)

// formulaRe matches chemical-formula-like tokens: runs of element symbols
// with optional digit subscripts, e.g. CO2, H2O, C6H12O6. The digit runs are
// optional per element so trailing-subscript formulas like CO2 and NH3 match;
// rewriteFormula leaves tokens with no digit at all untouched, so ordinary
// words never change.
var formulaRe = regexp.MustCompile(`\b((?:[A-Z][a-z]?[0-9]*)+)\b`)

// formulaPairRe splits a matched formula into element/digit-run pairs.
var formulaPairRe = regexp.MustCompile(`([A-Z][a-z]?)([0-9]*)`)

// Normalize wraps bare LaTeX commands, reaction-mechanism shorthand, and
// chemical formulas in inline-math delimiters. Content already inside $...$
// (or immediately adjacent to a delimiter) is left untouched. The transform
// is pure and idempotent.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = wrapBareCommands(s)
	s = replaceOutsideMath(s, mechanismRe, func(m []string) string {
		return `$\text{` + m[1] + `}_{` + m[2] + `}$`
	})
	s = replaceOutsideMath(s, formulaRe, rewriteFormula)
	return s
}

// rewriteFormula turns CO2 into $\text{CO}_{2}$ and H2O into
// $\text{H}_{2}\text{O}$. Consecutive elements without subscripts are grouped
// into a single \text run. Tokens with no digit anywhere are returned as-is.
func rewriteFormula(m []string) string {
	if !strings.ContainsAny(m[1], "0123456789") {
		return m[1]
	}
	var sb strings.Builder
	sb.WriteByte('$')
	var run strings.Builder
	for _, pair := range formulaPairRe.FindAllStringSubmatch(m[1], -1) {
		if pair[1] == "" {
			continue
		}
		run.WriteString(pair[1])
		if pair[2] != "" {
			sb.WriteString(`\text{` + run.String() + `}_{` + pair[2] + `}`)
			run.Reset()
		}
	}
	if run.Len() > 0 {
		sb.WriteString(`\text{` + run.String() + `}`)
	}
	sb.WriteByte('$')
	return sb.String()
}

// replaceOutsideMath applies a rewrite to regexp matches in the segments of s
// not inside $...$ delimiters. Matches immediately preceded or followed by a
// delimiter character are left untouched (no double-wrapping).
func replaceOutsideMath(s string, re *regexp.Regexp, rewrite func(match []string) string) string {
	var out strings.Builder
	inMath := false
	segStart := 0

	flush := func(seg string, lo int) {
		// lo is the absolute offset of this segment within s, used for
		// delimiter-adjacency checks at segment edges.
		prev := 0
		for _, loc := range re.FindAllStringSubmatchIndex(seg, -1) {
			start, end := loc[0], loc[1]
			out.WriteString(seg[prev:start])
			prev = end

			abs, absEnd := lo+start, lo+end
			adjacent := (abs > 0 && s[abs-1] == '$') || (absEnd < len(s) && s[absEnd] == '$')
			if adjacent {
				out.WriteString(seg[start:end])
				continue
			}

			sub := make([]string, 0, len(loc)/2)
			for k := 0; k < len(loc); k += 2 {
				if loc[k] < 0 {
					sub = append(sub, "")
					continue
				}
				sub = append(sub, seg[loc[k]:loc[k+1]])
			}
			out.WriteString(rewrite(sub))
		}
		out.WriteString(seg[prev:])
	}

	for i := 0; i < len(s); i++ {
		if s[i] == '$' {
			seg := s[segStart:i]
			if inMath {
				out.WriteString(seg)
			} else {
				flush(seg, segStart)
			}
			out.WriteByte('$')
			inMath = !inMath
			segStart = i + 1
		}
	}
	seg := s[segStart:]
	if inMath {
		out.WriteString(seg)
	} else {
		flush(seg, segStart)
	}
	return out.String()
}

// wrapBareCommands scans for \command{...} sequences (with optional trailing
// subscript/superscript groups) outside math delimiters and wraps them.
func wrapBareCommands(s string) string {
	var out strings.Builder
	inMath := false

	for i := 0; i < len(s); {
		c := s[i]
		if c == '$' {
			inMath = !inMath
			out.WriteByte(c)
			i++
			continue
		}
		if inMath || c != '\\' || i+1 >= len(s) || !isLetter(s[i+1]) {
			out.WriteByte(c)
			i++
			continue
		}

		end := consumeCommand(s, i)
		expr := s[i:end]

		precededByDelim := i > 0 && s[i-1] == '$'
		followedByDelim := end < len(s) && s[end] == '$'
		if precededByDelim || followedByDelim {
			out.WriteString(expr)
		} else {
			out.WriteString("$" + expr + "$")
		}
		i = end
	}
	return out.String()
}

// consumeCommand returns the index just past a LaTeX command starting at
// position i: the backslash-name, any balanced brace groups, and any
// subscript/superscript groups that follow.
func consumeCommand(s string, i int) int {
	j := i + 1
	for j < len(s) && isLetter(s[j]) {
		j++
	}
	for j < len(s) {
		switch s[j] {
		case '{':
			nj := consumeBraceGroup(s, j)
			if nj == j {
				return j
			}
			j = nj
		case '_', '^':
			if j+1 >= len(s) {
				return j
			}
			next := s[j+1]
			switch {
			case next == '{':
				nj := consumeBraceGroup(s, j+1)
				if nj == j+1 {
					return j
				}
				j = nj
			case next == '\\':
				j = consumeCommand(s, j+1)
			case isLetter(next) || isDigit(next):
				j += 2
			default:
				return j
			}
		default:
			return j
		}
	}
	return j
}

// consumeBraceGroup returns the index just past a balanced {...} group
// starting at position i, or i when the group is unbalanced.
func consumeBraceGroup(s string, i int) int {
	depth := 0
	for j := i; j < len(s); j++ {
		switch s[j] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j + 1
			}
		}
	}
	return i
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
