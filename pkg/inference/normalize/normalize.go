// Package normalize turns raw model output into displayable text.
//
// Reasoning wrapped in <think> tags is moved into a collapsible block in
// front of the answer, a truncated reasoning block is closed, and
// \boxed{X} math is rewritten as **X**. Normalize is idempotent.
package normalize

import (
	"regexp"
	"strings"
)

const (
	OpenTag  = "<think>"
	CloseTag = "</think>"

	// FallbackAnswer replaces an empty answer after reasoning was removed.
	FallbackAnswer = "The model finished thinking but did not produce an answer. Please try again."

	reasoningSummary = "Reasoning"
)

var spanRe = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// Normalize is pure: it depends only on its input.
func Normalize(text string) string {
	if !strings.Contains(text, OpenTag) && !strings.Contains(text, CloseTag) {
		return RewriteBoxed(text)
	}

	text = closeTruncated(text)

	var reasoning []string
	main := spanRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := spanRe.FindStringSubmatch(m)
		if r := strings.TrimSpace(stripTags(sub[1])); r != "" {
			reasoning = append(reasoning, r)
		}
		return ""
	})
	main = strings.TrimSpace(stripTags(main))

	if main == "" {
		main = FallbackAnswer
	}
	if len(reasoning) > 0 {
		main = renderReasoning(reasoning) + main
	}
	// rewriting the rendered text as a whole keeps a second pass a no-op
	return RewriteBoxed(main)
}

// stripTags removes tags until none is left; removing one can join the
// halves of another.
func stripTags(s string) string {
	for {
		out := strings.ReplaceAll(strings.ReplaceAll(s, OpenTag, ""), CloseTag, "")
		if out == s {
			return out
		}
		s = out
	}
}

// closeTruncated appends a close tag when the last open tag was never closed.
func closeTruncated(text string) string {
	lastOpen := strings.LastIndex(text, OpenTag)
	if lastOpen < 0 {
		return text
	}
	if strings.Contains(text[lastOpen:], CloseTag) {
		return text
	}
	return text + CloseTag
}

const (
	blockOpen  = "<details><summary>" + reasoningSummary + "</summary>\n\n"
	blockClose = "\n\n</details>\n\n"
)

func renderReasoning(parts []string) string {
	return blockOpen + strings.Join(parts, "\n\n") + blockClose
}

const boxedPrefix = `\boxed{`

// RewriteBoxed replaces \boxed{X} with **X**. Braces inside X must balance;
// an unbalanced occurrence is left untouched.
func RewriteBoxed(s string) string {
	if !strings.Contains(s, boxedPrefix) {
		return s
	}
	var sb strings.Builder
	i := 0
	for {
		idx := strings.Index(s[i:], boxedPrefix)
		if idx < 0 {
			sb.WriteString(s[i:])
			break
		}
		start := i + idx
		contentStart := start + len(boxedPrefix)
		end := matchBrace(s, contentStart)
		if end < 0 {
			sb.WriteString(s[i:])
			break
		}
		sb.WriteString(s[i:start])
		sb.WriteString("**")
		sb.WriteString(RewriteBoxed(s[contentStart:end]))
		sb.WriteString("**")
		i = end + 1
	}
	return sb.String()
}

// matchBrace returns the index of the brace closing the group that starts at
// from, or -1.
func matchBrace(s string, from int) int {
	depth := 1
	for j := from; j < len(s); j++ {
		switch s[j] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}
