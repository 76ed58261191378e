package feed

import (
	"errors"
	"sync"
	"time"
)

var ErrNoSession = errors.New("no session")

// MutationTracker wraps user-initiated actions so the store reflects the
// intended outcome before the network call resolves.
//
// Optimistic and self-healing, not transactional: on failure the
// speculative state stays in place and the next successful pull converges
// the view back to authoritative truth. Each action is settled only after
// its convergence pull completes — there are no fixed propagation delays.
type MutationTracker struct {
	api    *FeedApi
	store  *Store
	loader *SnapshotLoader

	stateLock sync.Mutex
	// like toggle direction per comment id for this session
	liked map[Id]bool
}

func NewMutationTracker(api *FeedApi, store *Store, loader *SnapshotLoader) *MutationTracker {
	tracker := &MutationTracker{
		api:    api,
		store:  store,
		loader: loader,
		liked:  map[Id]bool{},
	}
	// toggle history is per session
	store.AddTeardownCallback(tracker.reset)
	return tracker
}

func (self *MutationTracker) reset() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.liked = map[Id]bool{}
}

// posts a top-level comment when parentId is nil, a reply otherwise.
// the optimistic entry carries a locally generated id. The convergence
// pull replaces the collection wholesale, so the local id never
// coexists with the server-assigned one.
func (self *MutationTracker) PostComment(content string, parentId *Id) error {
	session := self.store.Session()
	if session == nil {
		return ErrNoSession
	}

	optimistic := &Comment{
		CommentId: NewId(),
		Author: &Author{
			UserId:         session.User.UserId,
			Username:       session.User.Username,
			ProfilePicture: session.User.ProfilePicture,
		},
		Content:   content,
		CreatedAt: time.Now(),
		ParentId:  parentId,
	}
	self.store.UpsertComment(optimistic)

	_, err := self.api.CreateCommentSync(&CreateCommentArgs{
		Content:  content,
		ParentId: parentId,
	})
	if err != nil {
		// no rollback. The next successful pull converges.
		return err
	}

	return self.loader.RefreshComments()
}

func (self *MutationTracker) ToggleLike(commentId Id) error {
	if self.store.Session() == nil {
		return ErrNoSession
	}

	self.stateLock.Lock()
	liked := !self.liked[commentId]
	self.liked[commentId] = liked
	self.stateLock.Unlock()

	if comment, ok := self.store.Comment(commentId); ok {
		likeCount := comment.LikeCount
		if liked {
			likeCount += 1
		} else if 0 < likeCount {
			likeCount -= 1
		}
		self.store.PatchCommentLikeCount(commentId, likeCount)
	}

	_, err := self.api.LikeCommentSync(commentId)
	if err != nil {
		return err
	}

	return self.loader.RefreshComments()
}

func (self *MutationTracker) Follow(userId Id) error {
	if self.store.Session() == nil {
		return ErrNoSession
	}

	self.store.SetFollowing(userId, true)

	_, err := self.api.FollowUserSync(userId)
	if err != nil {
		return err
	}

	return self.refreshProfile()
}

func (self *MutationTracker) Unfollow(userId Id) error {
	if self.store.Session() == nil {
		return ErrNoSession
	}

	self.store.SetFollowing(userId, false)

	_, err := self.api.UnfollowUserSync(userId)
	if err != nil {
		return err
	}

	return self.refreshProfile()
}

func (self *MutationTracker) UpdateProfile(updateProfile *UpdateProfileArgs) error {
	if self.store.Session() == nil {
		return ErrNoSession
	}

	user, err := self.api.UpdateProfileSync(updateProfile)
	if err != nil {
		return err
	}
	self.store.UpdateSessionUser(user)
	return nil
}

// acknowledges one notification locally and remotely
func (self *MutationTracker) MarkNotificationRead(notificationId Id) error {
	if self.store.Session() == nil {
		return ErrNoSession
	}

	self.store.MarkNotificationRead(notificationId)

	_, err := self.api.MarkNotificationReadSync(notificationId)
	if err != nil {
		return err
	}

	return self.loader.RefreshNotifications()
}

func (self *MutationTracker) MarkAllNotificationsRead() error {
	if self.store.Session() == nil {
		return ErrNoSession
	}

	self.store.MarkAllNotificationsRead()

	_, err := self.api.MarkAllNotificationsReadSync()
	if err != nil {
		return err
	}

	return self.loader.RefreshNotifications()
}

func (self *MutationTracker) DeleteNotification(notificationId Id) error {
	if self.store.Session() == nil {
		return ErrNoSession
	}

	self.store.RemoveNotification(notificationId)

	_, err := self.api.DeleteNotificationSync(notificationId)
	if err != nil {
		return err
	}

	return self.loader.RefreshNotifications()
}

func (self *MutationTracker) refreshProfile() error {
	user, err := self.api.GetProfileSync()
	if err != nil {
		return err
	}
	self.store.UpdateSessionUser(user)
	return nil
}
