package feed

import (
	"sync"

	"github.com/golang/glog"
)

type TeardownFunction func()

// Store is the single source of truth for session identity, the comment
// collection, the notification collection, and the unread counter.
//
/// All mutations are copy-on-write: each operation publishes a new collection
// value derived from the previous one, so values handed to readers are never
// mutated after the fact. Readers must treat returned values as immutable.
//
// The store has no knowledge of transport. Merge policy lives in Reconciler.
type Store struct {
	sessionStore *SessionStore

	update *Monitor

	teardownCallbacks *CallbackList[TeardownFunction]

	stateLock sync.Mutex

	session *Session

	comments []*Comment
	// comment id -> position in `comments`
	topIndex map[Id]int
	// reply id -> parent comment id
	replyParent map[Id]Id
	// reply id -> position in the parent's reply list
	replyIndex map[Id]int

	notifications []*Notification
	// the unread counter counts deliveries. It is incremented per
	// notification event, set by snapshots, and reset only by explicit
	// acknowledgment. It is not derived by scanning read flags.
	unreadCount int
}

func NewStore() *Store {
	return NewStoreWithSessionStore(nil)
}

// a nil sessionStore disables persistence.
// a persisted session is loaded on construction.
func NewStoreWithSessionStore(sessionStore *SessionStore) *Store {
	store := &Store{
		sessionStore:      sessionStore,
		update:            NewMonitor(),
		teardownCallbacks: NewCallbackList[TeardownFunction](),
		comments:          []*Comment{},
		topIndex:          map[Id]int{},
		replyParent:       map[Id]Id{},
		replyIndex:        map[Id]int{},
		notifications:     []*Notification{},
	}
	if sessionStore != nil {
		session, err := sessionStore.Load()
		if err != nil {
			glog.Infof("[st]session load error = %s\n", err)
		} else {
			store.session = session
		}
	}
	return store
}

// notified on every mutation
func (self *Store) UpdateMonitor() *Monitor {
	return self.update
}

// called when the session is cleared
func (self *Store) AddTeardownCallback(teardownCallback TeardownFunction) func() {
	return self.teardownCallbacks.Add(teardownCallback)
}

func (self *Store) Session() *Session {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.session
}

func (self *Store) Comments() []*Comment {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.comments
}

func (self *Store) Comment(commentId Id) (*Comment, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if i, ok := self.topIndex[commentId]; ok {
		return self.comments[i], true
	}
	if parentId, ok := self.replyParent[commentId]; ok {
		parent := self.comments[self.topIndex[parentId]]
		return parent.Replies[self.replyIndex[commentId]], true
	}
	return nil, false
}

func (self *Store) Notifications() []*Notification {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.notifications
}

func (self *Store) UnreadCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.unreadCount
}

func (self *Store) IsFollowing(userId Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.session == nil {
		return false
	}
	return self.session.User.IsFollowing(userId)
}

// a nil session is logout: all collections are cleared,
// the persisted session is removed, and teardown callbacks fire.
func (self *Store) SetSession(session *Session) {
	defer self.update.NotifyAll()

	teardown := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.session = session
		if session == nil {
			self.comments = []*Comment{}
			self.topIndex = map[Id]int{}
			self.replyParent = map[Id]Id{}
			self.replyIndex = map[Id]int{}
			self.notifications = []*Notification{}
			self.unreadCount = 0
			teardown = true
		}

		if self.sessionStore != nil {
			var err error
			if session == nil {
				err = self.sessionStore.Clear()
			} else {
				err = self.sessionStore.Save(session)
			}
			if err != nil {
				glog.Infof("[st]session persist error = %s\n", err)
			}
		}
	}()

	if teardown {
		for _, teardownCallback := range self.teardownCallbacks.Get() {
			teardownCallback()
		}
	}
}

// replaces the session user, keeping the token. No-op without a session.
func (self *Store) UpdateSessionUser(user *User) {
	defer self.update.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.session == nil {
		return
	}
	session := &Session{
		Token: self.session.Token,
		User:  user,
	}
	self.session = session
	if self.sessionStore != nil {
		if err := self.sessionStore.Save(session); err != nil {
			glog.Infof("[st]session persist error = %s\n", err)
		}
	}
}

// toggles membership of userId in the session user's following set,
// keeping the following count consistent with the set.
// returns false if there is no session or the membership already matches.
func (self *Store) SetFollowing(userId Id, following bool) bool {
	defer self.update.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.session == nil {
		return false
	}
	user := self.session.User
	if user.IsFollowing(userId) == following {
		return false
	}

	nextUser := user.Copy()
	if following {
		nextUser.FollowingIds = append(nextUser.FollowingIds, userId)
		nextUser.FollowingCount += 1
	} else {
		followingIds := []Id{}
		for _, followingId := range nextUser.FollowingIds {
			if followingId != userId {
				followingIds = append(followingIds, followingId)
			}
		}
		nextUser.FollowingIds = followingIds
		nextUser.FollowingCount -= 1
	}

	session := &Session{
		Token: self.session.Token,
		User:  nextUser,
	}
	self.session = session
	if self.sessionStore != nil {
		if err := self.sessionStore.Save(session); err != nil {
			glog.Infof("[st]session persist error = %s\n", err)
		}
	}
	return true
}

// takes ownership of the list. The caller is responsible for
// identity-deduplicating it first (see Reconciler).
func (self *Store) ReplaceComments(comments []*Comment) {
	defer self.update.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.comments = comments
	self.reindexComments()
}

func (self *Store) reindexComments() {
	self.topIndex = map[Id]int{}
	self.replyParent = map[Id]Id{}
	self.replyIndex = map[Id]int{}
	for i, comment := range self.comments {
		self.topIndex[comment.CommentId] = i
		for j, reply := range comment.Replies {
			self.replyParent[reply.CommentId] = comment.CommentId
			self.replyIndex[reply.CommentId] = j
		}
	}
}

// inserts or updates one comment by identity:
//   - no parent id: update the existing entry in place if the id is known,
//     otherwise insert at the head of the top-level collection
//   - parent id: update or append within the parent's reply list.
//     returns false if the parent is unknown (the caller decides what to
//     do with the orphan; it is never mis-filed as top-level)
//
// an update replaces the entry's fields with the incoming value, keeping
// its position. Existing replies are kept when the incoming value has none.
func (self *Store) UpsertComment(comment *Comment) bool {
	defer self.update.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	commentId := comment.CommentId

	if comment.ParentId == nil {
		if i, ok := self.topIndex[commentId]; ok {
			self.updateTopLevel(i, comment)
			return true
		}
		if parentId, ok := self.replyParent[commentId]; ok {
			// the id already lives as a reply. Update it there rather
			// than introduce a top-level duplicate.
			self.updateReply(parentId, comment)
			return true
		}
		next := comment.Copy()
		nextComments := make([]*Comment, 0, len(self.comments)+1)
		nextComments = append(nextComments, next)
		nextComments = append(nextComments, self.comments...)
		self.comments = nextComments
		self.topIndex[commentId] = 0
		for _, other := range self.comments[1:] {
			self.topIndex[other.CommentId] += 1
		}
		for j, reply := range next.Replies {
			self.replyParent[reply.CommentId] = commentId
			self.replyIndex[reply.CommentId] = j
		}
		return true
	}

	parentId := *comment.ParentId
	if knownParentId, ok := self.replyParent[commentId]; ok {
		self.updateReply(knownParentId, comment)
		return true
	}
	if i, ok := self.topIndex[commentId]; ok {
		// the id already lives at the top level. Update it there rather
		// than introduce a reply duplicate.
		self.updateTopLevel(i, comment)
		return true
	}
	i, ok := self.topIndex[parentId]
	if !ok {
		// unknown parent
		return false
	}
	nextParent := self.comments[i].Copy()
	nextReply := comment.Copy()
	// one level deep only
	nextReply.Replies = nil
	nextParent.Replies = append(nextParent.Replies, nextReply)
	nextComments := make([]*Comment, len(self.comments))
	copy(nextComments, self.comments)
	nextComments[i] = nextParent
	self.comments = nextComments
	self.replyParent[commentId] = parentId
	self.replyIndex[commentId] = len(nextParent.Replies) - 1
	return true
}

func (self *Store) updateTopLevel(i int, comment *Comment) {
	existing := self.comments[i]
	next := comment.Copy()
	next.ParentId = nil
	if next.Replies == nil {
		next.Replies = existing.Replies
	}
	nextComments := make([]*Comment, len(self.comments))
	copy(nextComments, self.comments)
	nextComments[i] = next
	self.comments = nextComments
	for _, reply := range existing.Replies {
		delete(self.replyParent, reply.CommentId)
		delete(self.replyIndex, reply.CommentId)
	}
	for j, reply := range next.Replies {
		self.replyParent[reply.CommentId] = next.CommentId
		self.replyIndex[reply.CommentId] = j
	}
}

func (self *Store) updateReply(parentId Id, comment *Comment) {
	i := self.topIndex[parentId]
	j := self.replyIndex[comment.CommentId]
	nextParent := self.comments[i].Copy()
	next := comment.Copy()
	next.Replies = nil
	next.ParentId = &parentId
	nextParent.Replies[j] = next
	nextComments := make([]*Comment, len(self.comments))
	copy(nextComments, self.comments)
	nextComments[i] = nextParent
	self.comments = nextComments
}

// patches only the like count, leaving all other fields untouched.
// returns false if the id matches no known comment or reply.
func (self *Store) PatchCommentLikeCount(commentId Id, likeCount int) bool {
	defer self.update.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if i, ok := self.topIndex[commentId]; ok {
		next := self.comments[i].Copy()
		next.LikeCount = likeCount
		nextComments := make([]*Comment, len(self.comments))
		copy(nextComments, self.comments)
		nextComments[i] = next
		self.comments = nextComments
		return true
	}
	if parentId, ok := self.replyParent[commentId]; ok {
		i := self.topIndex[parentId]
		j := self.replyIndex[commentId]
		nextParent := self.comments[i].Copy()
		nextReply := nextParent.Replies[j].Copy()
		nextReply.LikeCount = likeCount
		nextParent.Replies[j] = nextReply
		nextComments := make([]*Comment, len(self.comments))
		copy(nextComments, self.comments)
		nextComments[i] = nextParent
		self.comments = nextComments
		return true
	}
	return false
}

// takes ownership of the list
func (self *Store) ReplaceNotifications(notifications []*Notification, unreadCount int) {
	defer self.update.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.notifications = notifications
	self.unreadCount = unreadCount
}

// notifications are append-only and never deduplicated.
// the unread counter is incremented by exactly one.
func (self *Store) PrependNotification(notification *Notification) {
	defer self.update.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	nextNotifications := make([]*Notification, 0, len(self.notifications)+1)
	nextNotifications = append(nextNotifications, notification.Copy())
	nextNotifications = append(nextNotifications, self.notifications...)
	self.notifications = nextNotifications
	self.unreadCount += 1
}

func (self *Store) SetUnreadCount(unreadCount int) {
	defer self.update.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.unreadCount = unreadCount
}

func (self *Store) MarkNotificationRead(notificationId Id) bool {
	defer self.update.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for i, notification := range self.notifications {
		if notification.NotificationId == notificationId {
			if notification.Read {
				return true
			}
			next := notification.Copy()
			next.Read = true
			nextNotifications := make([]*Notification, len(self.notifications))
			copy(nextNotifications, self.notifications)
			nextNotifications[i] = next
			self.notifications = nextNotifications
			if 0 < self.unreadCount {
				self.unreadCount -= 1
			}
			return true
		}
	}
	return false
}

// explicit acknowledgment. Resets the unread counter.
func (self *Store) MarkAllNotificationsRead() {
	defer self.update.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	nextNotifications := make([]*Notification, len(self.notifications))
	for i, notification := range self.notifications {
		if notification.Read {
			nextNotifications[i] = notification
		} else {
			next := notification.Copy()
			next.Read = true
			nextNotifications[i] = next
		}
	}
	self.notifications = nextNotifications
	self.unreadCount = 0
}

func (self *Store) RemoveNotification(notificationId Id) bool {
	defer self.update.NotifyAll()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for i, notification := range self.notifications {
		if notification.NotificationId == notificationId {
			nextNotifications := make([]*Notification, 0, len(self.notifications)-1)
			nextNotifications = append(nextNotifications, self.notifications[:i]...)
			nextNotifications = append(nextNotifications, self.notifications[i+1:]...)
			self.notifications = nextNotifications
			if !notification.Read && 0 < self.unreadCount {
				self.unreadCount -= 1
			}
			return true
		}
	}
	return false
}
