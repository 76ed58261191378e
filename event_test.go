package feed

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestEventCodec(t *testing.T) {
	commentId := NewId()
	notificationId := NewId()

	events := []*Event{
		&Event{
			Name: EventNewComment,
			Comment: &Comment{
				CommentId: commentId,
				Content:   "first",
				CreatedAt: time.Now().UTC().Truncate(time.Second),
				LikeCount: 2,
			},
		},
		&Event{
			Name: EventCommentReply,
			Notification: &Notification{
				NotificationId: notificationId,
				Kind:           NotificationKindReply,
				Message:        "someone replied",
			},
		},
		&Event{
			Name: EventCommentLike,
			Notification: &Notification{
				NotificationId: NewId(),
				Kind:           NotificationKindLike,
			},
		},
		&Event{
			Name: EventNewFollower,
			Notification: &Notification{
				NotificationId: NewId(),
				Kind:           NotificationKindFollow,
			},
		},
		&Event{
			Name: EventNotificationReceived,
			Notification: &Notification{
				NotificationId: NewId(),
				Kind:           NotificationKindGeneric,
			},
		},
		&Event{
			Name: EventLikeUpdate,
			LikeUpdate: &LikeUpdate{
				CommentId: commentId,
				LikeCount: 3,
			},
		},
	}

	for _, event := range events {
		message, err := EncodeEvent(event)
		assert.Equal(t, err, nil)

		decoded, err := DecodeEvent(message)
		assert.Equal(t, err, nil)
		assert.Equal(t, decoded.Name, event.Name)
		assert.Equal(t, decoded.Comment, event.Comment)
		assert.Equal(t, decoded.Notification, event.Notification)
		assert.Equal(t, decoded.LikeUpdate, event.LikeUpdate)
	}
}

func TestEventDecodeUnknown(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"event":"mystery","data":{}}`))
	assert.NotEqual(t, err, nil)

	_, err = DecodeEvent([]byte(`not json`))
	assert.NotEqual(t, err, nil)
}
