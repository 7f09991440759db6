package rstream

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

func TestTrackerPushPopRoundTrip(t *testing.T) {
	tr := newRequestTracker()
	reply := make(chan trackerResult, 1)
	tr.push(trackerKey{kind: keyCreateStream, corrID: 1}, reply, "payload")
	require.Equal(t, 1, tr.len())

	w, ok := tr.pop(trackerKey{kind: keyCreateStream, corrID: 1})
	require.True(t, ok)
	require.Equal(t, "payload", w.payload)
	require.Equal(t, 0, tr.len())
}

func TestTrackerPopMissingKey(t *testing.T) {
	tr := newRequestTracker()
	_, ok := tr.pop(trackerKey{kind: keyOpen, corrID: 1})
	require.False(t, ok)
}

func TestTrackerKeyedByKindNotJustCorrelation(t *testing.T) {
	tr := newRequestTracker()
	streamReply := make(chan trackerResult, 1)
	publisherReply := make(chan trackerResult, 1)
	tr.push(trackerKey{kind: keyCreateStream, corrID: 1}, streamReply, nil)
	tr.push(trackerKey{kind: keyDeclarePublisher, corrID: 1}, publisherReply, nil)
	require.Equal(t, 2, tr.len())

	_, ok := tr.pop(trackerKey{kind: keyCreateStream, corrID: 1})
	require.True(t, ok)
	_, ok = tr.pop(trackerKey{kind: keyDeclarePublisher, corrID: 1})
	require.True(t, ok)
}

func TestTrackerDrainDeliversErrorToEveryWaiter(t *testing.T) {
	tr := newRequestTracker()
	var replies []chan trackerResult
	for i := uint32(1); i <= 5; i++ {
		reply := make(chan trackerResult, 1)
		replies = append(replies, reply)
		tr.push(trackerKey{kind: keyCreateStream, corrID: i}, reply, nil)
	}

	tr.drain(ErrConnDead)
	require.Equal(t, 0, tr.len())
	for _, reply := range replies {
		select {
		case res := <-reply:
			require.ErrorIs(t, res.err, ErrConnDead)
		default:
			t.Fatalf("waiter was not notified by drain, tracker state: %s", spew.Sdump(tr))
		}
	}
}

func TestTrackerDrainOnEmptyTrackerIsNoop(t *testing.T) {
	tr := newRequestTracker()
	tr.drain(ErrClosed)
	require.Equal(t, 0, tr.len())
}
