package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"github.com/cybercomments/feed"
)

const FeedCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Feed control.

The default urls are:
    api_url: https://api.cybercomments.net
    channel_url: wss://channel.cybercomments.net

Usage:
    feedctl login [--api_url=<api_url>] [--channel_url=<channel_url>] [--session=<session>]
        --user_auth=<user_auth>
        [--password=<password>]
    feedctl register [--api_url=<api_url>] [--channel_url=<channel_url>] [--session=<session>]
        --username=<username>
        --email=<email>
        [--password=<password>]
    feedctl logout [--api_url=<api_url>] [--session=<session>]
    feedctl watch [--api_url=<api_url>] [--channel_url=<channel_url>] [--session=<session>] [--verbose]
    feedctl post [--api_url=<api_url>] [--session=<session>] [--parent=<parent_id>] <content>
    feedctl like [--api_url=<api_url>] [--session=<session>] <comment_id>
    feedctl follow [--api_url=<api_url>] [--session=<session>] <user_id>
    feedctl unfollow [--api_url=<api_url>] [--session=<session>] <user_id>
    feedctl notifications [--api_url=<api_url>] [--session=<session>] [--mark_all_read]
    feedctl profile [--api_url=<api_url>] [--session=<session>]

Options:
    -h --help                    Show this screen.
    --version                    Show version.
    --api_url=<api_url>
    --channel_url=<channel_url>
    --session=<session>          Session file path.
    --user_auth=<user_auth>      Username or email.
    --username=<username>
    --email=<email>
    --password=<password>        Prompted when omitted.
    --parent=<parent_id>         Post a reply to this comment.
    --mark_all_read              Acknowledge all notifications.
    --verbose                    Log channel activity.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], FeedCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if register_, _ := opts.Bool("register"); register_ {
		register(opts)
	} else if logout_, _ := opts.Bool("logout"); logout_ {
		logout(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if post_, _ := opts.Bool("post"); post_ {
		post(opts)
	} else if like_, _ := opts.Bool("like"); like_ {
		like(opts)
	} else if follow_, _ := opts.Bool("follow"); follow_ {
		follow(opts, true)
	} else if unfollow_, _ := opts.Bool("unfollow"); unfollow_ {
		follow(opts, false)
	} else if notifications_, _ := opts.Bool("notifications"); notifications_ {
		notifications(opts)
	} else if profile_, _ := opts.Bool("profile"); profile_ {
		profile(opts)
	}
}

func newClient(opts docopt.Opts) *feed.FeedClient {
	settings := feed.DefaultFeedClientSettings()
	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		settings.ApiUrl = apiUrl
	}
	if channelUrl, err := opts.String("--channel_url"); err == nil && channelUrl != "" {
		settings.ChannelUrl = channelUrl
	}
	settings.SessionPath = sessionPath(opts)
	return feed.NewFeedClient(context.Background(), settings)
}

func sessionPath(opts docopt.Opts) string {
	if session, err := opts.String("--session"); err == nil && session != "" {
		return session
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "session.json"
	}
	dir := filepath.Join(home, ".cybercomments")
	os.MkdirAll(dir, 0700)
	return filepath.Join(dir, "session.json")
}

func password(opts docopt.Opts) string {
	if password, err := opts.String("--password"); err == nil && password != "" {
		return password
	}
	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Err.Fatalf("Could not read password (%s).", err)
	}
	return string(passwordBytes)
}

func resume(client *feed.FeedClient) {
	resumed, err := client.Resume()
	if err != nil {
		Err.Fatalf("Could not resume session (%s).", err)
	}
	if !resumed {
		Err.Fatalf("No session. Run `feedctl login` first.")
	}
}

func login(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	userAuth, _ := opts.String("--user_auth")
	if err := client.Login(userAuth, password(opts)); err != nil {
		Err.Fatalf("Login failed (%s).", err)
	}
	session := client.Store().Session()
	Out.Printf("Logged in as %s.", session.User.Username)
}

func register(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	username, _ := opts.String("--username")
	email, _ := opts.String("--email")
	if err := client.Register(username, email, password(opts)); err != nil {
		Err.Fatalf("Register failed (%s).", err)
	}
	session := client.Store().Session()
	Out.Printf("Registered as %s.", session.User.Username)
}

func logout(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	client.Logout()
	Out.Printf("Logged out.")
}

func watch(opts docopt.Opts) {
	if verbose, _ := opts.Bool("--verbose"); verbose {
		feed.GlobalLogLevel = feed.LogLevelDebug
	}
	log := feed.LogFn(feed.LogLevelDebug, "watch")

	client := newClient(opts)
	defer client.Close()

	resume(client)

	store := client.Store()
	for {
		notify := store.UpdateMonitor().NotifyChannel()
		log("channel state = %s", client.Channel().State())

		comments := store.Comments()
		Out.Printf("-- %d comments, %d unread notifications --", len(comments), store.UnreadCount())
		for _, comment := range comments {
			printComment(comment, "")
		}

		<-notify
	}
}

func printComment(comment *feed.Comment, indent string) {
	author := "?"
	if comment.Author != nil {
		author = comment.Author.Username
	}
	Out.Printf(
		"%s%s %s: %s (%d likes)",
		indent,
		comment.CreatedAt.Format(time.RFC3339),
		author,
		comment.Content,
		comment.LikeCount,
	)
	for _, reply := range comment.Replies {
		printComment(reply, indent+"    ")
	}
}

func post(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	resume(client)

	content, _ := opts.String("<content>")
	var parentId *feed.Id
	if parentIdStr, err := opts.String("--parent"); err == nil && parentIdStr != "" {
		id, err := feed.ParseId(parentIdStr)
		if err != nil {
			Err.Fatalf("Invalid parent id (%s).", err)
		}
		parentId = &id
	}

	if err := client.Tracker().PostComment(content, parentId); err != nil {
		Err.Fatalf("Post failed (%s).", err)
	}
	Out.Printf("Posted.")
}

func like(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	resume(client)

	commentIdStr, _ := opts.String("<comment_id>")
	commentId, err := feed.ParseId(commentIdStr)
	if err != nil {
		Err.Fatalf("Invalid comment id (%s).", err)
	}

	if err := client.Tracker().ToggleLike(commentId); err != nil {
		Err.Fatalf("Like failed (%s).", err)
	}
	Out.Printf("Liked.")
}

func follow(opts docopt.Opts, following bool) {
	client := newClient(opts)
	defer client.Close()

	resume(client)

	userIdStr, _ := opts.String("<user_id>")
	userId, err := feed.ParseId(userIdStr)
	if err != nil {
		Err.Fatalf("Invalid user id (%s).", err)
	}

	if following {
		err = client.Tracker().Follow(userId)
	} else {
		err = client.Tracker().Unfollow(userId)
	}
	if err != nil {
		Err.Fatalf("Follow change failed (%s).", err)
	}
	Out.Printf("Done.")
}

func notifications(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	resume(client)

	store := client.Store()
	Out.Printf("-- %d unread --", store.UnreadCount())
	for _, notification := range store.Notifications() {
		read := " "
		if !notification.Read {
			read = "*"
		}
		Out.Printf(
			"%s %s [%s] %s",
			read,
			notification.CreatedAt.Format(time.RFC3339),
			notification.Kind,
			notification.Message,
		)
	}

	if markAllRead, _ := opts.Bool("--mark_all_read"); markAllRead {
		if err := client.Tracker().MarkAllNotificationsRead(); err != nil {
			Err.Fatalf("Mark all read failed (%s).", err)
		}
		Out.Printf("All read.")
	}
}

func profile(opts docopt.Opts) {
	client := newClient(opts)
	defer client.Close()

	resume(client)

	user := client.Store().Session().User
	Out.Printf("%s (%s)", user.Username, user.UserId)
	if user.Bio != "" {
		Out.Printf("%s", user.Bio)
	}
	Out.Printf("%d followers, %d following", user.FollowerCount, user.FollowingCount)
}
