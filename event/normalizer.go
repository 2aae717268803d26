package event

import (
	"encoding/json"
	"time"

	"github.com/atharva20-coder/swoopin-sub002/errors"
)

// webhookPayload is the union of the messaging, comment-change and mention
// webhook shapes delivered by the provider. Only the fields the normalizer
// reads are modeled; everything else passes through untouched.
type webhookPayload struct {
	Entry []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID        string           `json:"id"` // receiving page/account id
	Time      int64            `json:"time"`
	Messaging []messagingEvent `json:"messaging"`
	Changes   []changeEvent    `json:"changes"`
}

type messagingEvent struct {
	Sender    idRef            `json:"sender"`
	Recipient idRef            `json:"recipient"`
	Timestamp int64            `json:"timestamp"`
	Message   *incomingMessage `json:"message"`
	Postback  *postback        `json:"postback"`
}

type idRef struct {
	ID string `json:"id"`
}

type incomingMessage struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text"`
	ReplyTo     *replyTo     `json:"reply_to"`
	Attachments []attachment `json:"attachments"`
}

type replyTo struct {
	MID   string    `json:"mid"`
	Story *storyRef `json:"story"`
}

type storyRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type attachment struct {
	Type string `json:"type"` // "story_mention" marks a story reply
}

type postback struct {
	MID     string `json:"mid"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

type changeEvent struct {
	Field string      `json:"field"` // "comments" or "mentions"
	Value changeValue `json:"value"`
}

type changeValue struct {
	ID        string `json:"id"` // comment id
	From      idRef  `json:"from"`
	Text      string `json:"text"`
	Media     *idRef `json:"media"`
	CommentID string `json:"comment_id"` // mentions shape
	MediaID   string `json:"media_id"`   // mentions shape
}

// Normalize converts a raw webhook payload into an IncomingEvent.
//
// Classification, first match wins per entry: a messaging postback is a DM
// using the postback payload as match text; message text is a DM; a
// "comments" change is a COMMENT; a "mentions" change is a MENTION. A DM
// whose attachment or reply target references a story is additionally
// tagged as a story reply.
//
// Returns ErrMalformedPayload when the minimum fields for the inferred
// type are absent; callers must not attempt matching on such events.
func Normalize(raw json.RawMessage) (*IncomingEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "event", "Normalize", "decode payload")
	}
	if len(payload.Entry) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "event", "Normalize", "payload has no entries")
	}

	entry := payload.Entry[0]

	if len(entry.Messaging) > 0 {
		return normalizeMessaging(entry)
	}
	if len(entry.Changes) > 0 {
		return normalizeChange(entry)
	}
	return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "event", "Normalize", "entry has no messaging or changes")
}

func normalizeMessaging(entry webhookEntry) (*IncomingEvent, error) {
	msg := entry.Messaging[0]
	if msg.Sender.ID == "" {
		return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "event", "Normalize", "messaging event missing sender id")
	}

	ev := &IncomingEvent{
		PageID:      entry.ID,
		SenderID:    msg.Sender.ID,
		TriggerType: TriggerDM,
		ReceivedAt:  tsOrNow(msg.Timestamp),
	}

	// A postback payload outranks message text as the match text.
	switch {
	case msg.Postback != nil && msg.Postback.Payload != "":
		ev.Text = msg.Postback.Payload
		ev.EventID = msg.Postback.MID
	case msg.Message != nil && msg.Message.Text != "":
		ev.Text = msg.Message.Text
		ev.EventID = msg.Message.MID
	default:
		return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "event", "Normalize", "messaging event has no text or postback")
	}

	if msg.Message != nil {
		if msg.Message.ReplyTo != nil && msg.Message.ReplyTo.Story != nil {
			ev.IsStoryReply = true
		}
		for _, att := range msg.Message.Attachments {
			if att.Type == "story_mention" {
				ev.IsStoryReply = true
			}
		}
	}

	return ev, nil
}

func normalizeChange(entry webhookEntry) (*IncomingEvent, error) {
	change := entry.Changes[0]

	switch change.Field {
	case "comments":
		if change.Value.From.ID == "" || change.Value.ID == "" {
			return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "event", "Normalize", "comment change missing sender or comment id")
		}
		ev := &IncomingEvent{
			PageID:      entry.ID,
			SenderID:    change.Value.From.ID,
			Text:        change.Value.Text,
			TriggerType: TriggerComment,
			EventID:     change.Value.ID,
			CommentID:   change.Value.ID,
			ReceivedAt:  tsOrNow(entry.Time),
		}
		if change.Value.Media != nil {
			ev.MediaID = change.Value.Media.ID
		}
		return ev, nil

	case "mentions":
		if change.Value.CommentID == "" && change.Value.MediaID == "" {
			return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "event", "Normalize", "mention change missing ids")
		}
		return &IncomingEvent{
			PageID:      entry.ID,
			SenderID:    change.Value.From.ID,
			Text:        change.Value.Text,
			TriggerType: TriggerMention,
			EventID:     change.Value.CommentID,
			CommentID:   change.Value.CommentID,
			MediaID:     change.Value.MediaID,
			Mention: &MentionData{
				CommentID: change.Value.CommentID,
				MediaID:   change.Value.MediaID,
			},
			ReceivedAt: tsOrNow(entry.Time),
		}, nil
	}

	return nil, errors.WrapInvalid(errors.ErrMalformedPayload, "event", "Normalize", "unrecognized change field "+change.Field)
}

func tsOrNow(millis int64) time.Time {
	if millis <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(millis).UTC()
}
