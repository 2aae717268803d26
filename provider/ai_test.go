package provider

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/transcript"
)

func TestNewAIClientRequiresKey(t *testing.T) {
	_, err := NewAIClient(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAIKeyNotSet))
}

func TestSystemInstruction(t *testing.T) {
	plain := systemInstruction("")
	assert.Contains(t, plain, "automated assistant")

	custom := systemInstruction("Only talk about sneakers.")
	assert.Contains(t, custom, "automated assistant")
	assert.Contains(t, custom, "Only talk about sneakers.")
	assert.True(t, strings.HasSuffix(custom, "Only talk about sneakers."))
}

func TestBuildContentsOrdersHistory(t *testing.T) {
	history := []transcript.Entry{
		{Role: transcript.RoleUser, Text: "do you ship abroad?"},
		{Role: transcript.RoleAssistant, Text: "yes, worldwide"},
	}
	contents := buildContents(history, "how much to France?")

	require.Len(t, contents, 3)
	assert.Equal(t, "user", string(contents[0].Role))
	assert.Equal(t, "model", string(contents[1].Role))
	assert.Equal(t, "user", string(contents[2].Role))
	assert.Equal(t, "how much to France?", contents[2].Parts[0].Text)
}

func TestIsModelBusy(t *testing.T) {
	assert.True(t, isModelBusy(errors.New("googleapi: Error 429: rate limit")))
	assert.True(t, isModelBusy(errors.New("resource exhausted")))
	assert.False(t, isModelBusy(errors.New("invalid argument")))
}

func TestLocalRPMGate(t *testing.T) {
	c := &AIClient{minuteStart: time.Now(), rpmLimit: 2}

	assert.True(t, c.allow())
	assert.True(t, c.allow())
	assert.False(t, c.allow())

	// Window rollover resets the count.
	c.minuteStart = time.Now().Add(-2 * time.Minute)
	assert.True(t, c.allow())
}
