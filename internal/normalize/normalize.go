// Package normalize builds the hardened text view used by keyword matching.
// Blocklist evasion is cheap: a zero-width space inside a banned word, a
// Cyrillic а for a Latin a, a fullwidth letter, a combining mark. The
// keyword stage matches against the view produced here so those tricks
// collapse back to the plain form. Only the matching view is hardened;
// the prompt text carried through redaction and returned to callers is
// never altered by this package.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// InvisibleRanges covers the zero-width and invisible code points dropped
// from the keyword matching view:
//   - Soft hyphen, zero-width space through RTL mark, bidi controls, BOM
//   - Word joiner group and interlinear annotation anchors
//   - Variation selectors 1-16 (U+FE00-FE0F) and supplement (U+E0100-E01EF)
//   - Tags block (U+E0000-E007F): deprecated language tags
//
// The audit logger consults the same table when scrubbing prompts for output,
// so a character invisible to matching is also invisible to operators' logs.
var InvisibleRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00AD, Hi: 0x00AD, Stride: 1}, // soft hyphen
		{Lo: 0x200B, Hi: 0x200F, Stride: 1}, // zero-width space through RTL mark
		{Lo: 0x202A, Hi: 0x202E, Stride: 1}, // bidi embedding controls (LRE/RLE/PDF/LRO/RLO)
		{Lo: 0x2060, Hi: 0x2064, Stride: 1}, // word joiner through invisible plus
		{Lo: 0x2066, Hi: 0x2069, Stride: 1}, // bidi isolate controls (LRI/RLI/FSI/PDI)
		{Lo: 0xFE00, Hi: 0xFE0F, Stride: 1}, // variation selectors 1-16
		{Lo: 0xFEFF, Hi: 0xFEFF, Stride: 1}, // BOM / ZWNBSP
		{Lo: 0xFFF9, Hi: 0xFFFB, Stride: 1}, // interlinear annotation anchors
	},
	R32: []unicode.Range32{
		{Lo: 0xE0000, Hi: 0xE007F, Stride: 1}, // Tags block
		{Lo: 0xE0100, Hi: 0xE01EF, Stride: 1}, // variation selectors supplement
	},
}

// confusableMap folds characters from non-Latin scripts that are visually
// identical to Latin letters. NFKC does not fold across scripts (Cyrillic
// а U+0430 stays Cyrillic), so a banned keyword is trivially evaded by
// swapping one letter. Coverage is Cyrillic, Greek, Armenian, Cherokee, and
// the IPA/small-capital Latin letters that survive NFKC. Not exhaustive:
// focused on substitutions that keep English keywords readable.
var confusableMap = map[rune]rune{
	// Cyrillic uppercase → Latin
	'А': 'A', // А
	'В': 'B', // В
	'С': 'C', // С
	'Е': 'E', // Е
	'Н': 'H', // Н
	'І': 'I', // І (Ukrainian)
	'Ј': 'J', // Ј (Serbian)
	'К': 'K', // К
	'М': 'M', // М
	'О': 'O', // О
	'Р': 'P', // Р
	'Ѕ': 'S', // Ѕ (Macedonian)
	'Т': 'T', // Т
	'Х': 'X', // Х

	// Cyrillic lowercase → Latin
	'а': 'a', // а
	'в': 'v', // в
	'е': 'e', // е
	'н': 'h', // н
	'і': 'i', // і (Ukrainian)
	'к': 'k', // к
	'м': 'm', // м
	'о': 'o', // о
	'р': 'p', // р
	'с': 'c', // с
	'т': 't', // т
	'у': 'y', // у
	'х': 'x', // х
	'ј': 'j', // ј (Serbian)
	'ѕ': 's', // ѕ (Macedonian)

	// Greek uppercase → Latin
	'Α': 'A', // Α
	'Β': 'B', // Β
	'Ε': 'E', // Ε
	'Ζ': 'Z', // Ζ
	'Η': 'H', // Η
	'Ι': 'I', // Ι
	'Κ': 'K', // Κ
	'Μ': 'M', // Μ
	'Ν': 'N', // Ν
	'Ο': 'O', // Ο
	'Ρ': 'P', // Ρ
	'Τ': 'T', // Τ
	'Υ': 'Y', // Υ
	'Χ': 'X', // Χ

	// Greek lowercase → Latin
	'α': 'a', // α
	'ε': 'e', // ε
	'ι': 'i', // ι
	'κ': 'k', // κ
	'ν': 'v', // ν (nu)
	'ο': 'o', // ο

	// Armenian → Latin (visually identical in most fonts)
	'Օ': 'O', // Օ
	'օ': 'o', // օ
	'Ս': 'S', // Ս
	'ս': 's', // ս
	'Լ': 'L', // Լ
	'հ': 'h', // հ
	'ո': 'n', // ո
	'ռ': 'n', // ռ
	'ա': 'a', // ա

	// Cherokee → Latin (uppercase lookalikes)
	'Ꭺ': 'A', // Ꭺ
	'Ꭲ': 'I', // Ꭲ
	'Ꮲ': 'P', // Ꮲ
	'Ꮪ': 'S', // Ꮪ
	'Ꭱ': 'E', // Ꭱ
	'Ꮃ': 'W', // Ꮃ
	'Ꮤ': 'T', // Ꮤ

	// IPA / Latin small capitals (survive NFKC; no Q or X forms exist)
	'ᴀ': 'A', // ᴀ
	'ʙ': 'B', // ʙ
	'ᴄ': 'C', // ᴄ
	'ᴅ': 'D', // ᴅ
	'ᴇ': 'E', // ᴇ
	'ꜰ': 'F', // ꜰ
	'ɢ': 'G', // ɢ
	'ʜ': 'H', // ʜ
	'ɪ': 'I', // ɪ
	'ᴊ': 'J', // ᴊ
	'ᴋ': 'K', // ᴋ
	'ʟ': 'L', // ʟ
	'ᴍ': 'M', // ᴍ
	'ɴ': 'N', // ɴ
	'ᴏ': 'O', // ᴏ
	'ᴘ': 'P', // ᴘ
	'ʀ': 'R', // ʀ
	'ꜱ': 'S', // ꜱ
	'ᴛ': 'T', // ᴛ
	'ᴜ': 'U', // ᴜ
	'ᴠ': 'V', // ᴠ
	'ᴡ': 'W', // ᴡ
	'ʏ': 'Y', // ʏ
	'ᴢ': 'Z', // ᴢ
}

// NormalizeWhitespace replaces Unicode whitespace characters outside the
// ASCII range with plain spaces so multi-word keywords match regardless of
// which space the prompt used.
func NormalizeWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', ' ', '᠎', ' ', ' ', ' ', '　':
			return ' '
		}
		if r >= ' ' && r <= ' ' {
			return ' '
		}
		return r
	}, s)
}

// StripInvisible removes zero-width and invisible characters along with
// non-whitespace control characters (C0 except \t, \n, \r; DEL; C1).
// Dropping rather than replacing is what re-joins a keyword split by a
// zero-width character: "ki​ll" becomes "kill" and is findable by
// substring search. Visible whitespace is preserved.
func StripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= 0x1F && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		if r == 0x7F {
			return -1
		}
		if r >= 0x80 && r <= 0x9F {
			return -1
		}
		if unicode.Is(InvisibleRanges, r) {
			return -1
		}
		return r
	}, s)
}

// ConfusableToASCII maps visually identical non-Latin characters to their
// Latin equivalents. Applied after NFKC, which does not fold across scripts.
// The negative squared letters (🅰-🆉) and regional indicators (🇦-🇿) are
// contiguous A-Z blocks and fold arithmetically.
func ConfusableToASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if mapped, ok := confusableMap[r]; ok {
			return mapped
		}
		if r >= 0x1F170 && r <= 0x1F189 {
			return 'A' + (r - 0x1F170)
		}
		if r >= 0x1F1E6 && r <= 0x1F1FF {
			return 'A' + (r - 0x1F1E6)
		}
		return r
	}, s)
}

// StripCombiningMarks removes combining marks (category Mn) that survive
// NFKC: "k̷ill" carries a stroke through the k but still reads as
// "kill". NFD decomposition reverses NFKC composition first so marks
// attached to precomposed characters are also stripped.
func StripCombiningMarks(s string) string {
	s = norm.NFD.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		return r
	}, s)
}

// ForKeywords builds the hardened matching view of a prompt: invisible
// characters are dropped, NFKC folds compatibility forms, cross-script
// confusables fold to ASCII, combining marks are stripped, and exotic
// whitespace becomes plain spaces. Case folding is the matcher's job,
// not this package's. The result is used for matching only and never
// surfaces in responses or audit records.
func ForKeywords(s string) string {
	s = StripInvisible(s)
	s = norm.NFKC.String(s)
	s = ConfusableToASCII(s)
	s = StripCombiningMarks(s)
	s = NormalizeWhitespace(s)
	return s
}
