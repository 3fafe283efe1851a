package convostore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemConvoStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemConvoStore(100, time.Hour)

	// unknown channel auto-initializes to an empty window
	window, err := cs.Get(ctx, "chan-unknown")
	assert.NoError(err)
	assert.Empty(window)

	assert.NoError(cs.Append(ctx, "chan-1", ConvoEntry{Speaker: "alice#1234", Content: "hello"}))
	window, err = cs.Get(ctx, "chan-1")
	assert.NoError(err)
	assert.Equal([]ConvoEntry{{Speaker: "alice#1234", Content: "hello"}}, window)
}

func TestMemConvoStoreWindowCap(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemConvoStore(100, time.Hour)

	for i := 1; i <= 5; i++ {
		entry := ConvoEntry{Speaker: "bob#0001", Content: fmt.Sprintf("msg-%d", i)}
		assert.NoError(cs.Append(ctx, "chan-1", entry))
	}

	// only the 3 most recent survive, in arrival order
	window, err := cs.Get(ctx, "chan-1")
	assert.NoError(err)
	assert.Equal(3, len(window))
	assert.Equal("msg-3", window[0].Content)
	assert.Equal("msg-4", window[1].Content)
	assert.Equal("msg-5", window[2].Content)
}

func TestMemConvoStoreChannelIsolation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemConvoStore(100, time.Hour)

	assert.NoError(cs.Append(ctx, "chan-a", ConvoEntry{Speaker: "x", Content: "in a"}))
	assert.NoError(cs.Append(ctx, "chan-b", ConvoEntry{Speaker: "y", Content: "in b"}))

	wa, err := cs.Get(ctx, "chan-a")
	assert.NoError(err)
	wb, err := cs.Get(ctx, "chan-b")
	assert.NoError(err)
	assert.Equal(1, len(wa))
	assert.Equal(1, len(wb))
	assert.Equal("in a", wa[0].Content)
	assert.Equal("in b", wb[0].Content)
}
