// Package event defines the canonical incoming event shape and the
// normalizer that produces it from provider-specific payloads.
package event

import "time"

// TriggerType classifies how an event entered the system.
type TriggerType string

// Trigger types recognized by the matcher and the graph's trigger nodes.
const (
	TriggerDM             TriggerType = "DM"
	TriggerComment        TriggerType = "COMMENT"
	TriggerMention        TriggerType = "MENTION"
	TriggerYouTubeComment TriggerType = "YOUTUBE_COMMENT"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerDM, TriggerComment, TriggerMention, TriggerYouTubeComment:
		return true
	}
	return false
}

// MentionData carries the comment/media ids of a mention event.
type MentionData struct {
	CommentID string `json:"comment_id"`
	MediaID   string `json:"media_id"`
}

// IncomingEvent is the normalized shape of one provider payload. It lives
// for the duration of a single ingestion call.
type IncomingEvent struct {
	// PageID is the receiving account/channel the event was delivered to.
	PageID string `json:"page_id"`
	// SenderID identifies the external user who produced the event.
	SenderID string `json:"sender_id"`
	// Text is the match text: message body, comment text, or postback payload.
	Text string `json:"text"`

	TriggerType TriggerType `json:"trigger_type"`

	// EventID is the provider-native message/comment id used for dedup.
	// Empty when the provider supplied none; such events are not deduplicated.
	EventID string `json:"event_id,omitempty"`

	CommentID string `json:"comment_id,omitempty"`
	MediaID   string `json:"media_id,omitempty"`

	Mention *MentionData `json:"mention,omitempty"`

	IsStoryReply bool `json:"is_story_reply,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// IsDM reports whether the event should be matched against DM triggers.
func (e *IncomingEvent) IsDM() bool {
	return e.TriggerType == TriggerDM
}

// IsCommentLike reports whether the event carries a comment id that an
// automation can reply to.
func (e *IncomingEvent) IsCommentLike() bool {
	return e.TriggerType == TriggerComment || e.TriggerType == TriggerYouTubeComment
}

// PolledComment builds an IncomingEvent from one comment fetched by the
// poller. Poll-sourced events always carry the comment id for dedup.
func PolledComment(channelID, commentID, authorID, text string, publishedAt time.Time) *IncomingEvent {
	return &IncomingEvent{
		PageID:      channelID,
		SenderID:    authorID,
		Text:        text,
		TriggerType: TriggerYouTubeComment,
		EventID:     commentID,
		CommentID:   commentID,
		ReceivedAt:  publishedAt,
	}
}
