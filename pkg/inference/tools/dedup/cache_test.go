package dedup

import (
	"testing"
	"time"

	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestKeyDependsOnToolAndPayload(t *testing.T) {
	require.Equal(t, Key("get", `{"id":"1"}`), Key("get", `{"id":"1"}`))
	require.NotEqual(t, Key("get", `{"id":"1"}`), Key("get", `{"id": "1"}`))
	require.NotEqual(t, Key("get", `{}`), Key("list", `{}`))
}

func TestGetHonoursTTL(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := New(5*time.Second, 0, WithClock(clk.Now))

	k := Key("create_invoice", `{"fields":{}}`)
	c.Put(k, conversation.ToolResult{CallID: "call_1", Output: "ok", Success: true})

	clk.Advance(4 * time.Second)
	res, ok := c.Get(k)
	require.True(t, ok)
	require.Equal(t, "ok", res.Output)

	clk.Advance(time.Second)
	_, ok = c.Get(k)
	require.False(t, ok, "entry at exactly TTL is stale")
	require.Equal(t, 1, c.Len(), "stale entry is kept until the cleanup threshold")

	clk.Advance(5 * time.Second)
	_, ok = c.Get(k)
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestPutSweepsOldEntries(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c := New(time.Second, 0, WithClock(clk.Now))

	c.Put("a", conversation.ToolResult{Output: "a"})
	c.Put("b", conversation.ToolResult{Output: "b"})
	clk.Advance(1500 * time.Millisecond)
	c.Put("c", conversation.ToolResult{Output: "c"})
	require.Equal(t, 3, c.Len())

	clk.Advance(time.Second)
	c.Put("d", conversation.ToolResult{Output: "d"})
	require.Equal(t, 2, c.Len())
}

func TestDefaults(t *testing.T) {
	c := New(0, 0)
	require.Equal(t, DefaultTTL, c.TTL())
}
