package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

// the 401-equivalent. Fatal to the session: the client tears down the
// store and channel when any call reports this.
var ErrUnauthorized = errors.New("unauthorized")

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

type UnauthorizedFunction func()

type FeedApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	unauthorizedCallbacks *CallbackList[UnauthorizedFunction]

	stateLock sync.Mutex
	token     string
}

func NewFeedApi(apiUrl string) *FeedApi {
	return NewFeedApiWithContext(context.Background(), apiUrl)
}

func NewFeedApiWithContext(ctx context.Context, apiUrl string) *FeedApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &FeedApi{
		ctx:                   cancelCtx,
		cancel:                cancel,
		apiUrl:                apiUrl,
		unauthorizedCallbacks: NewCallbackList[UnauthorizedFunction](),
	}
}

// this gets attached to api calls that need it
func (self *FeedApi) SetToken(token string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.token = token
}

func (self *FeedApi) Token() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.token
}

// called whenever any call reports the 401-equivalent
func (self *FeedApi) AddUnauthorizedCallback(unauthorizedCallback UnauthorizedFunction) func() {
	return self.unauthorizedCallbacks.Add(unauthorizedCallback)
}

func (self *FeedApi) unauthorized() {
	for _, unauthorizedCallback := range self.unauthorizedCallbacks.Get() {
		unauthorizedCallback()
	}
}

// wraps a callback so the api's unauthorized callbacks fire before the
// caller sees the error
func notifyUnauthorized[R any](api *FeedApi, callback apiCallback[R]) apiCallback[R] {
	return NewApiCallback[R](func(result R, err error) {
		if err != nil && errors.Is(err, ErrUnauthorized) {
			api.unauthorized()
		}
		callback.Result(result, err)
	})
}

type AuthLoginCallback apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	UserAuth string `json:"user_auth"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	Token string                `json:"token,omitempty"`
	User  *User                 `json:"user,omitempty"`
	Error *AuthLoginResultError `json:"error,omitempty"`
}

type AuthLoginResultError struct {
	Message string `json:"message"`
}

func (self *FeedApi) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.Token(),
		&AuthLoginResult{},
		notifyUnauthorized(self, callback),
	)
}

func (self *FeedApi) AuthLoginSync(authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.Token(),
		&AuthLoginResult{},
		notifyUnauthorized(self, NewNoopApiCallback[*AuthLoginResult]()),
	)
}

type AuthRegisterCallback apiCallback[*AuthRegisterResult]

type AuthRegisterArgs struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthRegisterResult struct {
	Token string                `json:"token,omitempty"`
	User  *User                 `json:"user,omitempty"`
	Error *AuthLoginResultError `json:"error,omitempty"`
}

func (self *FeedApi) AuthRegister(authRegister *AuthRegisterArgs, callback AuthRegisterCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/auth/register", self.apiUrl),
		authRegister,
		self.Token(),
		&AuthRegisterResult{},
		notifyUnauthorized(self, callback),
	)
}

func (self *FeedApi) AuthRegisterSync(authRegister *AuthRegisterArgs) (*AuthRegisterResult, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/auth/register", self.apiUrl),
		authRegister,
		self.Token(),
		&AuthRegisterResult{},
		notifyUnauthorized(self, NewNoopApiCallback[*AuthRegisterResult]()),
	)
}

type GetAllCommentsCallback apiCallback[*CommentsResult]

type CommentsResult struct {
	Comments []*Comment `json:"comments"`
}

func (self *FeedApi) GetAllComments(callback GetAllCommentsCallback) {
	go request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/comments", self.apiUrl),
		nil,
		self.Token(),
		&CommentsResult{},
		notifyUnauthorized(self, callback),
	)
}

func (self *FeedApi) GetAllCommentsSync() (*CommentsResult, error) {
	return request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/comments", self.apiUrl),
		nil,
		self.Token(),
		&CommentsResult{},
		notifyUnauthorized(self, NewNoopApiCallback[*CommentsResult]()),
	)
}

type CreateCommentCallback apiCallback[*CreateCommentResult]

type CreateCommentArgs struct {
	Content  string `json:"content"`
	ParentId *Id    `json:"parent_id,omitempty"`
}

type CreateCommentResult struct {
	Comment *Comment `json:"comment"`
}

func (self *FeedApi) CreateComment(createComment *CreateCommentArgs, callback CreateCommentCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/comments", self.apiUrl),
		createComment,
		self.Token(),
		&CreateCommentResult{},
		notifyUnauthorized(self, callback),
	)
}

func (self *FeedApi) CreateCommentSync(createComment *CreateCommentArgs) (*CreateCommentResult, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/comments", self.apiUrl),
		createComment,
		self.Token(),
		&CreateCommentResult{},
		notifyUnauthorized(self, NewNoopApiCallback[*CreateCommentResult]()),
	)
}

func (self *FeedApi) GetCommentByIdSync(commentId Id) (*Comment, error) {
	return request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/comments/%s", self.apiUrl, commentId),
		nil,
		self.Token(),
		&Comment{},
		notifyUnauthorized(self, NewNoopApiCallback[*Comment]()),
	)
}

type LikeCommentCallback apiCallback[*LikeCommentResult]

type LikeCommentResult struct {
	LikeCount int  `json:"like_count"`
	Liked     bool `json:"liked"`
}

func (self *FeedApi) LikeComment(commentId Id, callback LikeCommentCallback) {
	go request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/comments/%s/like", self.apiUrl, commentId),
		nil,
		self.Token(),
		&LikeCommentResult{},
		notifyUnauthorized(self, callback),
	)
}

func (self *FeedApi) LikeCommentSync(commentId Id) (*LikeCommentResult, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/comments/%s/like", self.apiUrl, commentId),
		nil,
		self.Token(),
		&LikeCommentResult{},
		notifyUnauthorized(self, NewNoopApiCallback[*LikeCommentResult]()),
	)
}

type GetNotificationsCallback apiCallback[*NotificationsResult]

type NotificationsResult struct {
	Notifications []*Notification `json:"notifications"`
}

func (self *FeedApi) GetNotifications(callback GetNotificationsCallback) {
	go request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/notifications", self.apiUrl),
		nil,
		self.Token(),
		&NotificationsResult{},
		notifyUnauthorized(self, callback),
	)
}

func (self *FeedApi) GetNotificationsSync() (*NotificationsResult, error) {
	return request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/notifications", self.apiUrl),
		nil,
		self.Token(),
		&NotificationsResult{},
		notifyUnauthorized(self, NewNoopApiCallback[*NotificationsResult]()),
	)
}

type GetUnreadCountCallback apiCallback[*UnreadCountResult]

type UnreadCountResult struct {
	UnreadCount int `json:"unread_count"`
}

func (self *FeedApi) GetUnreadCount(callback GetUnreadCountCallback) {
	go request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/notifications/unread-count", self.apiUrl),
		nil,
		self.Token(),
		&UnreadCountResult{},
		notifyUnauthorized(self, callback),
	)
}

func (self *FeedApi) GetUnreadCountSync() (*UnreadCountResult, error) {
	return request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/notifications/unread-count", self.apiUrl),
		nil,
		self.Token(),
		&UnreadCountResult{},
		notifyUnauthorized(self, NewNoopApiCallback[*UnreadCountResult]()),
	)
}

type MarkNotificationReadResult struct{}

func (self *FeedApi) MarkNotificationReadSync(notificationId Id) (*MarkNotificationReadResult, error) {
	return request(
		self.ctx,
		"PUT",
		fmt.Sprintf("%s/notifications/%s/read", self.apiUrl, notificationId),
		nil,
		self.Token(),
		&MarkNotificationReadResult{},
		notifyUnauthorized(self, NewNoopApiCallback[*MarkNotificationReadResult]()),
	)
}

type MarkAllNotificationsReadResult struct{}

func (self *FeedApi) MarkAllNotificationsReadSync() (*MarkAllNotificationsReadResult, error) {
	return request(
		self.ctx,
		"PUT",
		fmt.Sprintf("%s/notifications/mark-all-read", self.apiUrl),
		nil,
		self.Token(),
		&MarkAllNotificationsReadResult{},
		notifyUnauthorized(self, NewNoopApiCallback[*MarkAllNotificationsReadResult]()),
	)
}

type DeleteNotificationResult struct{}

func (self *FeedApi) DeleteNotificationSync(notificationId Id) (*DeleteNotificationResult, error) {
	return request(
		self.ctx,
		"DELETE",
		fmt.Sprintf("%s/notifications/%s", self.apiUrl, notificationId),
		nil,
		self.Token(),
		&DeleteNotificationResult{},
		notifyUnauthorized(self, NewNoopApiCallback[*DeleteNotificationResult]()),
	)
}

type GetAllUsersCallback apiCallback[*UsersResult]

type UsersResult struct {
	Users []*User `json:"users"`
}

func (self *FeedApi) GetAllUsers(callback GetAllUsersCallback) {
	go request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/users", self.apiUrl),
		nil,
		self.Token(),
		&UsersResult{},
		notifyUnauthorized(self, callback),
	)
}

func (self *FeedApi) GetAllUsersSync() (*UsersResult, error) {
	return request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/users", self.apiUrl),
		nil,
		self.Token(),
		&UsersResult{},
		notifyUnauthorized(self, NewNoopApiCallback[*UsersResult]()),
	)
}

func (self *FeedApi) GetUserByIdSync(userId Id) (*User, error) {
	return request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/users/%s", self.apiUrl, userId),
		nil,
		self.Token(),
		&User{},
		notifyUnauthorized(self, NewNoopApiCallback[*User]()),
	)
}

func (self *FeedApi) GetProfileSync() (*User, error) {
	return request(
		self.ctx,
		"GET",
		fmt.Sprintf("%s/users/profile", self.apiUrl),
		nil,
		self.Token(),
		&User{},
		notifyUnauthorized(self, NewNoopApiCallback[*User]()),
	)
}

type UpdateProfileArgs struct {
	Username       string `json:"username,omitempty"`
	Bio            string `json:"bio,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

func (self *FeedApi) UpdateProfileSync(updateProfile *UpdateProfileArgs) (*User, error) {
	return request(
		self.ctx,
		"PUT",
		fmt.Sprintf("%s/users/profile", self.apiUrl),
		updateProfile,
		self.Token(),
		&User{},
		notifyUnauthorized(self, NewNoopApiCallback[*User]()),
	)
}

type FollowUserResult struct{}

func (self *FeedApi) FollowUserSync(userId Id) (*FollowUserResult, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/users/follow/%s", self.apiUrl, userId),
		nil,
		self.Token(),
		&FollowUserResult{},
		notifyUnauthorized(self, NewNoopApiCallback[*FollowUserResult]()),
	)
}

type UnfollowUserResult struct{}

func (self *FeedApi) UnfollowUserSync(userId Id) (*UnfollowUserResult, error) {
	return request(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/users/unfollow/%s", self.apiUrl, userId),
		nil,
		self.Token(),
		&UnfollowUserResult{},
		notifyUnauthorized(self, NewNoopApiCallback[*UnfollowUserResult]()),
	)
}

func (self *FeedApi) Close() {
	self.cancel()
}

func request[R any](ctx context.Context, method string, url string, args any, token string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "text/json")

	if token != "" {
		auth := fmt.Sprintf("Bearer %s", token)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if r.StatusCode == http.StatusUnauthorized {
		var empty R
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = fmt.Errorf("%w: %s", ErrUnauthorized, errorMessage)
		callback.Result(empty, err)
		return empty, err
	}

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
