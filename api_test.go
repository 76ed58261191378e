package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestApiAuthHeader(t *testing.T) {
	comment := testComment("a", 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, "/comments")
		assert.Equal(t, r.Header.Get("Authorization"), "Bearer test-token")
		json.NewEncoder(w).Encode(&CommentsResult{
			Comments: []*Comment{comment},
		})
	}))
	defer server.Close()

	api := NewFeedApi(server.URL)
	defer api.Close()
	api.SetToken("test-token")

	result, err := api.GetAllCommentsSync()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(result.Comments), 1)
	assert.Equal(t, result.Comments[0].CommentId, comment.CommentId)
}

func TestApiCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&UnreadCountResult{
			UnreadCount: 7,
		})
	}))
	defer server.Close()

	api := NewFeedApi(server.URL)
	defer api.Close()

	callback, c := NewBlockingApiCallback[*UnreadCountResult]()
	api.GetUnreadCount(callback)

	select {
	case result := <-c:
		assert.Equal(t, result.Error, nil)
		assert.Equal(t, result.Result.UnreadCount, 7)
	case <-time.After(5 * time.Second):
		t.Fatal("expected callback")
	}
}

func TestApiUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, "token expired")
	}))
	defer server.Close()

	api := NewFeedApi(server.URL)
	defer api.Close()

	unauthorizedCount := 0
	api.AddUnauthorizedCallback(func() {
		unauthorizedCount += 1
	})

	_, err := api.GetAllCommentsSync()
	assert.Equal(t, errors.Is(err, ErrUnauthorized), true)
	assert.Equal(t, unauthorizedCount, 1)
}

func TestApiErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer server.Close()

	api := NewFeedApi(server.URL)
	defer api.Close()

	_, err := api.GetAllCommentsSync()
	assert.NotEqual(t, err, nil)
	assert.Equal(t, err.Error(), "boom")
	assert.Equal(t, errors.Is(err, ErrUnauthorized), false)
}

func TestApiGetCommentById(t *testing.T) {
	comment := testComment("a", 3)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, r.URL.Path, fmt.Sprintf("/comments/%s", comment.CommentId))
		json.NewEncoder(w).Encode(comment)
	}))
	defer server.Close()

	api := NewFeedApi(server.URL)
	defer api.Close()

	result, err := api.GetCommentByIdSync(comment.CommentId)
	assert.Equal(t, err, nil)
	assert.Equal(t, result.CommentId, comment.CommentId)
	assert.Equal(t, result.LikeCount, 3)
}
