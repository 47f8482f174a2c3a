package normalize

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeWithoutTagsKeepsText(t *testing.T) {
	require.Equal(t, "  hello  ", Normalize("  hello  "))
	require.Equal(t, "", Normalize(""))
}

func TestNormalizeMovesReasoningInFront(t *testing.T) {
	out := Normalize("<think>check the totals</think>The total is 42.")
	require.Equal(t, blockOpen+"check the totals"+blockClose+"The total is 42.", out)
	require.NotContains(t, out, OpenTag)
	require.NotContains(t, out, CloseTag)
}

func TestNormalizeTruncatedReasoning(t *testing.T) {
	out := Normalize("<think>partial")
	require.Equal(t, blockOpen+"partial"+blockClose+FallbackAnswer, out)
}

func TestNormalizeEmptyReasoningIsDropped(t *testing.T) {
	require.Equal(t, "Done.", Normalize("<think>   </think>Done."))
	require.Equal(t, FallbackAnswer, Normalize("<think></think>"))
}

func TestNormalizeStrayCloseTag(t *testing.T) {
	require.Equal(t, "ab", Normalize("a</think>b"))
}

func TestNormalizeMultipleSpans(t *testing.T) {
	out := Normalize("<think>one</think>A <think>two</think>B")
	require.True(t, strings.HasPrefix(out, blockOpen+"one\n\ntwo"+blockClose))
	require.True(t, strings.HasSuffix(out, "A B"))
}

func TestRewriteBoxed(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`The answer is \boxed{42}.`, `The answer is **42**.`},
		{`\boxed{x^{2}}`, `**x^{2}**`},
		{`\boxed{\boxed{1}}`, `****1****`},
		{`\boxed{a} and \boxed{b}`, `**a** and **b**`},
		{`\boxed{open`, `\boxed{open`},
		{`no math here`, `no math here`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, RewriteBoxed(tt.in))
		})
	}
}

func TestNormalizeRewritesBoxedInBothParts(t *testing.T) {
	out := Normalize(`<think>maybe \boxed{1}</think>It is \boxed{2}`)
	require.Equal(t, blockOpen+"maybe **1**"+blockClose+"It is **2**", out)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain answer",
		"  padded  ",
		"<think>partial",
		"<think>a</think>b",
		"<think>a</think>",
		"</think>",
		"<think><think>nested</think>answer",
		`<think>\boxed{open</think>answer }`,
		`<think>x</think>\boxed{y`,
		`<think>one \boxed{</think>two } \boxed{z}`,
		`\boxed{\boxed{deep}}`,
		"<think>a</think>b<think>c",
		"\n\n}<think>\n\n</details>\n\n\\boxed{",
		"<thi<think>x</think>nk>answer",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			once := Normalize(in)
			require.Equal(t, once, Normalize(once))
			require.NotContains(t, once, OpenTag)
			require.NotContains(t, once, CloseTag)
		})
	}
}

func TestNormalizeIsIdempotentOnRandomInput(t *testing.T) {
	pieces := []string{
		OpenTag, CloseTag, boxedPrefix, "{", "}", "a", " ", "\n\n",
		blockOpen, blockClose, "<thi", "nk>", "</thi",
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20000; i++ {
		var sb strings.Builder
		for n := rng.Intn(10); n > 0; n-- {
			sb.WriteString(pieces[rng.Intn(len(pieces))])
		}
		in := sb.String()
		once := Normalize(in)
		require.Equal(t, once, Normalize(once), "input %q", in)
		require.NotContains(t, once, OpenTag, "input %q", in)
		require.NotContains(t, once, CloseTag, "input %q", in)
	}
}
