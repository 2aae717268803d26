package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharva20-coder/swoopin-sub002/errors"
)

func TestNormalize_DMWithText(t *testing.T) {
	raw := json.RawMessage(`{
		"entry": [{
			"id": "page-1",
			"messaging": [{
				"sender": {"id": "user-9"},
				"recipient": {"id": "page-1"},
				"timestamp": 1700000000000,
				"message": {"mid": "mid-123", "text": "DISCOUNT10"}
			}]
		}]
	}`)

	ev, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, TriggerDM, ev.TriggerType)
	assert.Equal(t, "page-1", ev.PageID)
	assert.Equal(t, "user-9", ev.SenderID)
	assert.Equal(t, "DISCOUNT10", ev.Text)
	assert.Equal(t, "mid-123", ev.EventID)
	assert.False(t, ev.IsStoryReply)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), ev.ReceivedAt)
}

func TestNormalize_PostbackOutranksText(t *testing.T) {
	raw := json.RawMessage(`{
		"entry": [{
			"id": "page-1",
			"messaging": [{
				"sender": {"id": "user-9"},
				"message": {"mid": "mid-1", "text": "ignored"},
				"postback": {"mid": "pb-1", "title": "Get offer", "payload": "OFFER_CLICK"}
			}]
		}]
	}`)

	ev, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, TriggerDM, ev.TriggerType)
	assert.Equal(t, "OFFER_CLICK", ev.Text)
	assert.Equal(t, "pb-1", ev.EventID)
}

func TestNormalize_StoryReply(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			"reply_to story",
			`{"entry":[{"id":"p","messaging":[{"sender":{"id":"u"},
				"message":{"mid":"m","text":"nice!","reply_to":{"story":{"id":"story-1"}}}}]}]}`,
		},
		{
			"story_mention attachment",
			`{"entry":[{"id":"p","messaging":[{"sender":{"id":"u"},
				"message":{"mid":"m","text":"nice!","attachments":[{"type":"story_mention"}]}}]}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Normalize(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.True(t, ev.IsStoryReply)
			assert.Equal(t, TriggerDM, ev.TriggerType)
		})
	}
}

func TestNormalize_CommentChange(t *testing.T) {
	raw := json.RawMessage(`{
		"entry": [{
			"id": "page-1",
			"time": 1700000000000,
			"changes": [{
				"field": "comments",
				"value": {
					"id": "comment-77",
					"from": {"id": "user-3"},
					"text": "where can I buy this",
					"media": {"id": "media-5"}
				}
			}]
		}]
	}`)

	ev, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, TriggerComment, ev.TriggerType)
	assert.Equal(t, "comment-77", ev.CommentID)
	assert.Equal(t, "comment-77", ev.EventID)
	assert.Equal(t, "media-5", ev.MediaID)
	assert.Equal(t, "user-3", ev.SenderID)
	assert.True(t, ev.IsCommentLike())
}

func TestNormalize_MentionChange(t *testing.T) {
	raw := json.RawMessage(`{
		"entry": [{
			"id": "page-1",
			"changes": [{
				"field": "mentions",
				"value": {"comment_id": "c-1", "media_id": "m-1", "from": {"id": "user-4"}, "text": "@brand look"}
			}]
		}]
	}`)

	ev, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, TriggerMention, ev.TriggerType)
	require.NotNil(t, ev.Mention)
	assert.Equal(t, "c-1", ev.Mention.CommentID)
	assert.Equal(t, "m-1", ev.Mention.MediaID)
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"no entries", `{"entry": []}`},
		{"entry with nothing", `{"entry": [{"id": "p"}]}`},
		{"messaging without sender", `{"entry":[{"id":"p","messaging":[{"message":{"text":"hi"}}]}]}`},
		{"messaging without text or postback", `{"entry":[{"id":"p","messaging":[{"sender":{"id":"u"}}]}]}`},
		{"comment without comment id", `{"entry":[{"id":"p","changes":[{"field":"comments","value":{"from":{"id":"u"},"text":"x"}}]}]}`},
		{"mention without ids", `{"entry":[{"id":"p","changes":[{"field":"mentions","value":{"text":"x"}}]}]}`},
		{"unknown change field", `{"entry":[{"id":"p","changes":[{"field":"story_insights","value":{}}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(json.RawMessage(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrMalformedPayload))
		})
	}
}

func TestPolledComment(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ev := PolledComment("channel-1", "yt-comment-5", "viewer-2", "first!", at)

	assert.Equal(t, TriggerYouTubeComment, ev.TriggerType)
	assert.Equal(t, "yt-comment-5", ev.EventID)
	assert.Equal(t, "yt-comment-5", ev.CommentID)
	assert.Equal(t, "channel-1", ev.PageID)
	assert.True(t, ev.IsCommentLike())
	assert.False(t, ev.IsDM())
}

func TestTriggerTypeValid(t *testing.T) {
	assert.True(t, TriggerDM.Valid())
	assert.True(t, TriggerYouTubeComment.Valid())
	assert.False(t, TriggerType("STORY").Valid())
}
