package session

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDropsOldestUnderBackpressure(t *testing.T) {
	c, _ := newTestConn()

	const extra = 10
	for i := 0; i < outboundQueueSize+extra; i++ {
		c.Send([]byte(strconv.Itoa(i)))
	}

	var got []string
loop:
	for {
		select {
		case frame := <-c.Outbound():
			got = append(got, string(frame))
		default:
			break loop
		}
	}

	// the queue kept the newest frames and shed the oldest
	require.Len(t, got, outboundQueueSize)
	assert.Equal(t, strconv.Itoa(extra), got[0])
	assert.Equal(t, strconv.Itoa(outboundQueueSize+extra-1), got[len(got)-1])
}

func TestCloseReachesTransportOnce(t *testing.T) {
	c, rec := newTestConn()

	c.Close(4003, "Authentication failed")
	c.Close(4001, "Reconnected with same userId")

	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, 4003, rec.code)
	assert.Equal(t, "Authentication failed", rec.reason)
}

func TestAuthenticated(t *testing.T) {
	c, _ := newTestConn()
	assert.False(t, c.Authenticated())
	c.UserID = "u1"
	assert.True(t, c.Authenticated())
	assert.NotEmpty(t, c.ID)
}
