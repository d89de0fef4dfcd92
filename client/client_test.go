package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockwise/colabd/colab"
	"github.com/blockwise/colabd/internal/colab/config"
)

const testSecret = "client-test-secret"

func startServer(t *testing.T) string {
	t.Helper()
	s, err := colab.NewServer(&config.Config{
		Port:                      4000,
		Env:                       "development",
		JoinTokenSecret:           testSecret,
		EmptyWorkspaceRetentionMS: 60_000,
		LogLevel:                  "info",
	})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return strings.Replace(srv.URL, "http://", "ws://", 1) + "/ws"
}

var jtiSeq atomic.Int64

func signTicket(t *testing.T, sub, workspaceID, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":         sub,
		"workspaceId": workspaceID,
		"jti":         fmt.Sprintf("client-jti-%d", jtiSeq.Add(1)),
		"aud":         "colab-backend",
		"exp":         time.Now().Add(time.Minute).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// connected dials and waits for admission, returning the client, its
// frame stream and the Connect result channel.
func connected(t *testing.T, ctx context.Context, wsURL, sub, workspaceID, role string) (*Client, chan Frame, chan error) {
	t.Helper()
	frames := make(chan Frame, 64)
	welcomes := make(chan *Welcome, 1)
	c := New(Options{
		URL:       wsURL,
		Ticket:    signTicket(t, sub, workspaceID, role),
		Workspace: workspaceID,
		Username:  sub,
	})
	c.OnFrame = func(f Frame) { frames <- f }
	c.OnWelcome = func(w *Welcome) { welcomes <- w }

	done := make(chan error, 1)
	go func() { done <- c.Connect(ctx) }()

	select {
	case <-welcomes:
	case err := <-done:
		t.Fatalf("connect failed before welcome: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for welcome")
	}
	return c, frames, done
}

func awaitFrame(t *testing.T, frames chan Frame, msgType string) Frame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f := <-frames:
			if f.Type == msgType {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", msgType)
		}
	}
}

func newFastBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Millisecond
	b.MaxInterval = 10 * time.Millisecond
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func TestConnectDeliversWelcomeAndFrames(t *testing.T) {
	wsURL := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice, aliceFrames, aliceDone := connected(t, ctx, wsURL, "alice", "w1", "")

	welcome := alice.Welcome()
	require.NotNil(t, welcome)
	assert.Equal(t, "alice", welcome.UserID)
	assert.Equal(t, "w1", welcome.WorkspaceID)
	assert.True(t, welcome.IsOwner)
	assert.True(t, welcome.Permissions.CanView)
	require.Len(t, welcome.Users, 1)

	bob, _, bobDone := connected(t, ctx, wsURL, "bob", "w1", "TEACHER")

	var joined UserJoined
	require.NoError(t, awaitFrame(t, aliceFrames, MsgUserJoined).Decode(&joined))
	assert.Equal(t, "bob", joined.UserID)

	require.NoError(t, bob.MoveBlock("b1", json.RawMessage(`{"x":1,"y":2}`), ""))

	var moved BlockMoved
	require.NoError(t, awaitFrame(t, aliceFrames, MsgBlockMove).Decode(&moved))
	assert.Equal(t, "b1", moved.BlockID)
	assert.Equal(t, "bob", moved.UserID)
	assert.Equal(t, int64(1), moved.Version)
	assert.Equal(t, `W/"block:b1:1"`, moved.Etag)

	cancel()
	<-aliceDone
	<-bobDone
}

func TestChatRoundTrip(t *testing.T) {
	wsURL := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice, aliceFrames, _ := connected(t, ctx, wsURL, "alice", "chat-ws", "")

	require.NoError(t, alice.Chat("hello <b>room</b>"))

	var msg ChatMessage
	require.NoError(t, awaitFrame(t, aliceFrames, MsgChat).Decode(&msg))
	assert.Equal(t, "alice", msg.UserID)
	assert.Equal(t, "hello room", msg.Message)
	assert.NotEmpty(t, msg.MessageID)
}

func TestRejectedTicket(t *testing.T) {
	wsURL := startServer(t)

	c := New(Options{URL: wsURL, Ticket: "garbage", Workspace: "w1"})
	err := c.Connect(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid ticket", authErr.Reason)
	assert.False(t, retryable(err))
}

func TestKickedIsTerminal(t *testing.T) {
	wsURL := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	teacher, teacherFrames, _ := connected(t, ctx, wsURL, "teach", "w1", "TEACHER")
	_, _, studentDone := connected(t, ctx, wsURL, "kid", "w1", "")

	var joined UserJoined
	require.NoError(t, awaitFrame(t, teacherFrames, MsgUserJoined).Decode(&joined))
	require.Equal(t, "kid", joined.UserID)

	require.NoError(t, teacher.Kick("kid"))

	select {
	case err := <-studentDone:
		require.ErrorIs(t, err, ErrKicked)
		assert.False(t, retryable(err))
	case <-time.After(5 * time.Second):
		t.Fatal("kicked client did not disconnect")
	}
}

func TestReplacedIsTerminal(t *testing.T) {
	wsURL := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _, firstDone := connected(t, ctx, wsURL, "alice", "w1", "")
	connected(t, ctx, wsURL, "alice", "w1", "")

	select {
	case err := <-firstDone:
		require.ErrorIs(t, err, ErrReplaced)
		assert.False(t, retryable(err))
	case <-time.After(5 * time.Second):
		t.Fatal("replaced client did not disconnect")
	}
}

func TestSendRequiresConnection(t *testing.T) {
	c := New(Options{URL: "ws://localhost:1/ws"})
	require.ErrorIs(t, c.Chat("hi"), errNotConnected)
}

func TestRunReconnectsOnFailure(t *testing.T) {
	var attempts atomic.Int32
	targetAttempts := int32(4)

	c := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())

	mockConnect := func(_ context.Context) error {
		n := attempts.Add(1)
		if n >= targetAttempts {
			cancel()
		}
		return fmt.Errorf("connection lost")
	}

	err := c.run(ctx, mockConnect, newFastBackoff(), 5*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts.Load(), targetAttempts, "connect call count")
}

func TestRunStopsOnTerminalError(t *testing.T) {
	var attempts atomic.Int32

	c := New(Options{})
	mockConnect := func(_ context.Context) error {
		attempts.Add(1)
		return ErrKicked
	}

	err := c.run(context.Background(), mockConnect, newFastBackoff(), 5*time.Millisecond)
	require.ErrorIs(t, err, ErrKicked)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestRunResetsBackoffAfterLongConnection(t *testing.T) {
	var timestamps []time.Time
	var attempts atomic.Int32

	c := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.Multiplier = 4.0
	bo.RandomizationFactor = 0
	bo.Reset()

	mockConnect := func(_ context.Context) error {
		n := attempts.Add(1)
		timestamps = append(timestamps, time.Now())
		switch n {
		case 1, 2, 3:
			return fmt.Errorf("fail %d", n)
		case 4:
			// Succeed for longer than the threshold so backoff resets.
			time.Sleep(80 * time.Millisecond)
			return fmt.Errorf("disconnect after long session")
		case 5:
			return fmt.Errorf("fail 5")
		default:
			cancel()
			return fmt.Errorf("done")
		}
	}

	require.NoError(t, c.run(ctx, mockConnect, bo, 50*time.Millisecond))
	require.GreaterOrEqual(t, len(timestamps), 6, "expected at least 6 attempts")

	// Gap between attempts 3 and 4 reflects the grown backoff; the gap
	// after the long session should shrink back to the initial interval.
	gap34 := timestamps[3].Sub(timestamps[2])
	gap56 := timestamps[5].Sub(timestamps[4])
	assert.Less(t, gap56, gap34, "gap after reset should be shorter than gap before long connection")
}
