package feed

import (
	"sync"

	"github.com/golang/glog"
)

// Reconciler merges snapshots, push events, and optimistic writes into the
// store, keeping the comment collection duplicate-free and order-stable.
//
// It is a single-writer structure: all merges are serialized through
// stateLock, and each merge is atomic from a reader's perspective. Inputs
// are applied strictly in arrival order per source. Timestamps are data,
// not a merge key.
//
// A snapshot result is guarded by the pull sequence number handed out when
// the pull was issued. A result that arrives after a later pull has already
// been applied is discarded (last-write-wins at snapshot granularity).
//
// Events that arrive while a pull is in flight are queued and applied after
// the pull's replacement completes, in arrival order. A wholesale
// replacement would otherwise erase an event the (older) snapshot does not
// contain.
type Reconciler struct {
	store *Store

	stateLock            sync.Mutex
	pullSeq              uint64
	pullsInFlight        int
	pending              []*Event
	commentSeq           uint64
	notificationSeq      uint64
	likePatchMissCount   uint64
	orphanReplyDropCount uint64
}

func NewReconciler(store *Store) *Reconciler {
	return &Reconciler{
		store: store,
	}
}

// marks a pull in flight and returns its sequence number. Every BeginPull
// must be balanced by the matching ApplyCommentSnapshot /
// ApplyNotificationSnapshot, or by CancelPull when the pull fails.
func (self *Reconciler) BeginPull() uint64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.pullSeq += 1
	self.pullsInFlight += 1
	return self.pullSeq
}

// releases a failed pull. Queued events apply once no pull is in flight.
func (self *Reconciler) CancelPull() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.endPull()
}

func (self *Reconciler) endPull() {
	self.pullsInFlight -= 1
	if self.pullsInFlight == 0 && 0 < len(self.pending) {
		pending := self.pending
		self.pending = nil
		for _, event := range pending {
			self.applyEvent(event)
		}
	}
}

func (self *Reconciler) Apply(event *Event) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if 0 < self.pullsInFlight {
		glog.V(2).Infof("[r]queue %s until pull completes\n", event.Name)
		self.pending = append(self.pending, event)
		return
	}
	self.applyEvent(event)
}

func (self *Reconciler) applyEvent(event *Event) {
	switch event.Name {
	case EventNewComment:
		if !self.store.UpsertComment(event.Comment) {
			// reply for an unknown parent. Dropped, never mis-filed.
			// the parent and reply arrive on the next snapshot.
			self.orphanReplyDropCount += 1
			glog.V(1).Infof("[r]drop reply %s (unknown parent %s)\n", event.Comment.CommentId, event.Comment.ParentId)
		}
	case EventCommentReply, EventCommentLike, EventNewFollower, EventNotificationReceived:
		self.store.PrependNotification(event.Notification)
	case EventLikeUpdate:
		if !self.store.PatchCommentLikeCount(event.LikeUpdate.CommentId, event.LikeUpdate.LikeCount) {
			// patch for an unknown comment. Dropped, corrected by the next pull.
			self.likePatchMissCount += 1
			glog.V(1).Infof("[r]drop like patch %s\n", event.LikeUpdate.CommentId)
		}
	default:
		glog.V(1).Infof("[r]ignore event %s\n", event.Name)
	}
}

// replaces the comment collection wholesale.
// returns false if a later pull has already been applied.
func (self *Reconciler) ApplyCommentSnapshot(pullSeq uint64, comments []*Comment) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	defer self.endPull()

	if pullSeq <= self.commentSeq {
		glog.V(1).Infof("[r]discard stale comment snapshot %d <= %d\n", pullSeq, self.commentSeq)
		return false
	}
	self.commentSeq = pullSeq
	self.store.ReplaceComments(dedupeComments(comments))
	return true
}

// replaces the notification collection and unread counter wholesale.
// returns false if a later pull has already been applied.
func (self *Reconciler) ApplyNotificationSnapshot(pullSeq uint64, notifications []*Notification, unreadCount int) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	defer self.endPull()

	if pullSeq <= self.notificationSeq {
		glog.V(1).Infof("[r]discard stale notification snapshot %d <= %d\n", pullSeq, self.notificationSeq)
		return false
	}
	self.notificationSeq = pullSeq
	self.store.ReplaceNotifications(dedupeNotifications(notifications), unreadCount)
	return true
}

// soft merge misses since construction
func (self *Reconciler) Misses() (likePatches uint64, orphanReplies uint64) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.likePatchMissCount, self.orphanReplyDropCount
}

// a snapshot that contains duplicate ids is a data-quality condition,
// not trusted blindly. First occurrence wins, insertion order preserved.
// an entry that carries a parent id never appears at the top level, and
// every id is unique across the top level and all reply lists.
func dedupeComments(comments []*Comment) []*Comment {
	seenIds := map[Id]bool{}
	deduped := make([]*Comment, 0, len(comments))
	for _, comment := range comments {
		if comment.ParentId != nil {
			glog.V(1).Infof("[r]drop mis-filed reply %s from snapshot\n", comment.CommentId)
			continue
		}
		if seenIds[comment.CommentId] {
			glog.V(1).Infof("[r]drop duplicate comment %s from snapshot\n", comment.CommentId)
			continue
		}
		seenIds[comment.CommentId] = true
		deduped = append(deduped, comment)
	}
	for i, comment := range deduped {
		replies := make([]*Comment, 0, len(comment.Replies))
		dropped := false
		for _, reply := range comment.Replies {
			if seenIds[reply.CommentId] {
				glog.V(1).Infof("[r]drop duplicate reply %s from snapshot\n", reply.CommentId)
				dropped = true
				continue
			}
			seenIds[reply.CommentId] = true
			replies = append(replies, reply)
		}
		if dropped {
			next := comment.Copy()
			next.Replies = replies
			deduped[i] = next
		}
	}
	return deduped
}

func dedupeNotifications(notifications []*Notification) []*Notification {
	seenIds := map[Id]bool{}
	deduped := make([]*Notification, 0, len(notifications))
	for _, notification := range notifications {
		if seenIds[notification.NotificationId] {
			glog.V(1).Infof("[r]drop duplicate notification %s from snapshot\n", notification.NotificationId)
			continue
		}
		seenIds[notification.NotificationId] = true
		deduped = append(deduped, notification)
	}
	return deduped
}
