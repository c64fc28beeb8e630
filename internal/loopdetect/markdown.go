package loopdetect

import (
	"regexp"
	"strings"
)

// These patterns implement spec.md §4.2's "Context resets": code fences and
// divider lines reset short-pattern state and toggle/suspend detection
// inside code blocks; headings, blockquotes, list items, and table rows
// also reset short-pattern state but do not touch the in_code_block flag.
// None of these resets touch the long-pattern (rolling-hash) state.
var (
	dividerPattern     = regexp.MustCompile(`^[+\-_=*\x{2500}-\x{257F}]+$`)
	headingPattern     = regexp.MustCompile(`^#{1,6}\s+`)
	blockquotePattern  = regexp.MustCompile(`^>\s+`)
	listItemPattern    = regexp.MustCompile(`^(?:[*+\-]|\d+\.)\s+`)
	tableBorderPattern = regexp.MustCompile(`^\+[-+]+\+`)
)

// countFences returns how many ``` occurrences appear in content, used to
// toggle the in_code_block flag (an odd count flips it).
func countFences(content string) int {
	return strings.Count(content, "```")
}

// isDivider reports whether content, once trimmed, is made up solely of
// divider characters (-, =, _, +, *, or box-drawing glyphs).
func isDivider(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	return dividerPattern.MatchString(trimmed)
}

// shouldResetForMarkdownStructure reports whether content's first
// non-whitespace run matches a heading, blockquote, list item, or table
// row — structural markers that reset short-pattern tracking per
// spec.md §4.2, carried from the original gemini-cli port's
// _should_reset_for_markdown_structure.
func shouldResetForMarkdownStructure(content string) bool {
	stripped := strings.TrimLeft(content, " \t\r\n")
	if stripped == "" {
		return false
	}
	if headingPattern.MatchString(stripped) {
		return true
	}
	if blockquotePattern.MatchString(stripped) {
		return true
	}
	if listItemPattern.MatchString(stripped) {
		return true
	}
	if strings.HasPrefix(stripped, "|") && strings.Count(stripped, "|") >= 2 {
		return true
	}
	return tableBorderPattern.MatchString(stripped)
}
