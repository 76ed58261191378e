package feed

import (
	"errors"

	"github.com/golang/glog"
)

// SnapshotLoader pulls full collections and replaces the matching slice of
// the store atomically through the reconciler. Triggered on session
// establishment, on every reconnect, and after every locally-initiated
// write. The push channel does not guarantee the acting session receives
// its own event back, so the pull after a write is mandatory.
type SnapshotLoader struct {
	api        *FeedApi
	reconciler *Reconciler
}

func NewSnapshotLoader(api *FeedApi, reconciler *Reconciler) *SnapshotLoader {
	return &SnapshotLoader{
		api:        api,
		reconciler: reconciler,
	}
}

func (self *SnapshotLoader) RefreshComments() error {
	pullSeq := self.reconciler.BeginPull()
	result, err := self.api.GetAllCommentsSync()
	if err != nil {
		self.reconciler.CancelPull()
		return err
	}
	if !self.reconciler.ApplyCommentSnapshot(pullSeq, result.Comments) {
		glog.V(1).Infof("[l]comment pull %d superseded\n", pullSeq)
	}
	return nil
}

func (self *SnapshotLoader) RefreshNotifications() error {
	pullSeq := self.reconciler.BeginPull()
	notificationsResult, err := self.api.GetNotificationsSync()
	if err != nil {
		self.reconciler.CancelPull()
		return err
	}
	unreadCountResult, err := self.api.GetUnreadCountSync()
	if err != nil {
		self.reconciler.CancelPull()
		return err
	}
	if !self.reconciler.ApplyNotificationSnapshot(
		pullSeq,
		notificationsResult.Notifications,
		unreadCountResult.UnreadCount,
	) {
		glog.V(1).Infof("[l]notification pull %d superseded\n", pullSeq)
	}
	return nil
}

func (self *SnapshotLoader) RefreshAll() error {
	return errors.Join(
		self.RefreshComments(),
		self.RefreshNotifications(),
	)
}
