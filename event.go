package feed

import (
	"encoding/json"
	"fmt"
)

// named events delivered on the push channel.
// each message is a json envelope {"event": <name>, "data": <payload>}
const (
	EventNewComment           = "new_comment"
	EventCommentReply         = "comment_reply"
	EventCommentLike          = "comment_like"
	EventNewFollower          = "new_follower"
	EventLikeUpdate           = "like_update"
	EventNotificationReceived = "notification_received"

	// handshake only, never forwarded to the reconciler
	eventAuth = "auth"
)

type LikeUpdate struct {
	CommentId Id  `json:"comment_id"`
	LikeCount int `json:"like_count"`
}

// tagged variant. Exactly one payload field is set, selected by Name.
type Event struct {
	Name         string
	Comment      *Comment
	Notification *Notification
	LikeUpdate   *LikeUpdate
}

func (self *Event) String() string {
	return self.Name
}

type eventEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func DecodeEvent(message []byte) (*Event, error) {
	envelope := &eventEnvelope{}
	if err := json.Unmarshal(message, envelope); err != nil {
		return nil, err
	}

	event := &Event{
		Name: envelope.Event,
	}
	switch envelope.Event {
	case EventNewComment:
		comment := &Comment{}
		if err := json.Unmarshal(envelope.Data, comment); err != nil {
			return nil, err
		}
		event.Comment = comment
	case EventCommentReply, EventCommentLike, EventNewFollower, EventNotificationReceived:
		notification := &Notification{}
		if err := json.Unmarshal(envelope.Data, notification); err != nil {
			return nil, err
		}
		event.Notification = notification
	case EventLikeUpdate:
		likeUpdate := &LikeUpdate{}
		if err := json.Unmarshal(envelope.Data, likeUpdate); err != nil {
			return nil, err
		}
		event.LikeUpdate = likeUpdate
	default:
		return nil, fmt.Errorf("unknown event %s", envelope.Event)
	}
	return event, nil
}

func EncodeEvent(event *Event) ([]byte, error) {
	var data any
	switch event.Name {
	case EventNewComment:
		data = event.Comment
	case EventCommentReply, EventCommentLike, EventNewFollower, EventNotificationReceived:
		data = event.Notification
	case EventLikeUpdate:
		data = event.LikeUpdate
	default:
		return nil, fmt.Errorf("unknown event %s", event.Name)
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&eventEnvelope{
		Event: event.Name,
		Data:  dataBytes,
	})
}
