package feed

import (
	"time"

	"golang.org/x/exp/slices"
)

type NotificationKind string

const (
	NotificationKindReply   NotificationKind = "reply"
	NotificationKindLike    NotificationKind = "like"
	NotificationKindFollow  NotificationKind = "follow"
	NotificationKindGeneric NotificationKind = "generic"
)

// denormalized author reference carried on comments and notifications
type Author struct {
	UserId         Id     `json:"user_id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

type User struct {
	UserId         Id     `json:"user_id"`
	Username       string `json:"username"`
	Email          string `json:"email,omitempty"`
	Bio            string `json:"bio,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
	FollowerCount  int    `json:"follower_count"`
	FollowingCount int    `json:"following_count"`
	FollowingIds   []Id   `json:"following_ids,omitempty"`
}

func (self *User) Copy() *User {
	user := *self
	user.FollowingIds = slices.Clone(self.FollowingIds)
	return &user
}

func (self *User) IsFollowing(userId Id) bool {
	return slices.Contains(self.FollowingIds, userId)
}

// replies are one level deep. A reply never carries replies of its own,
// and a comment with a parent id never appears at the top level.
type Comment struct {
	CommentId Id         `json:"comment_id"`
	Author    *Author    `json:"author,omitempty"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	LikeCount int        `json:"like_count"`
	Replies   []*Comment `json:"replies,omitempty"`
	ParentId  *Id        `json:"parent_id,omitempty"`
}

// shallow copy with a cloned reply list. Reply entries are shared
// until individually replaced.
func (self *Comment) Copy() *Comment {
	comment := *self
	comment.Replies = slices.Clone(self.Replies)
	return &comment
}

type Notification struct {
	NotificationId Id               `json:"notification_id"`
	Kind           NotificationKind `json:"kind"`
	Message        string           `json:"message"`
	Sender         *Author          `json:"sender,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	Read           bool             `json:"read"`
}

func (self *Notification) Copy() *Notification {
	notification := *self
	return &notification
}

// the only state that survives a process restart.
// comments and notifications are always re-pulled.
type Session struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}
