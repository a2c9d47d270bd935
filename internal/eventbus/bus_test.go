package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishToExactSubscriber(t *testing.T) {
	bus := New(zerolog.Nop())
	sub := bus.Subscribe(EventIssueStatusChanged)

	p := NewPayload(EventIssueStatusChanged)
	p.ID = "ISSUE-001"
	bus.Publish(EventIssueStatusChanged, p)

	select {
	case env := <-sub.C():
		assert.Equal(t, EventIssueStatusChanged, env.Name)
		assert.Equal(t, "ISSUE-001", env.Payload.ID)
		assert.False(t, env.Payload.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestWildcardReceivesEverything(t *testing.T) {
	bus := New(zerolog.Nop())
	sub := bus.Subscribe(Wildcard)

	bus.Publish(EventExecutionStarted, NewPayload(EventExecutionStarted))
	bus.Publish(EventFeedbackCreated, NewPayload(EventFeedbackCreated))

	var names []string
	for i := 0; i < 2; i++ {
		select {
		case env := <-sub.C():
			names = append(names, env.Name)
		case <-time.After(time.Second):
			t.Fatal("missing event")
		}
	}
	assert.Equal(t, []string{EventExecutionStarted, EventFeedbackCreated}, names)
}

func TestNonMatchingSubscriberGetsNothing(t *testing.T) {
	bus := New(zerolog.Nop())
	sub := bus.Subscribe(EventExecutionFailed)

	bus.Publish(EventExecutionCompleted, NewPayload(EventExecutionCompleted))

	select {
	case env := <-sub.C():
		t.Fatalf("unexpected event %s", env.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := New(zerolog.Nop())
	bus.Subscribe(EventExecutionUpdated) // never drained

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(EventExecutionUpdated, NewPayload(EventExecutionUpdated))
	}
	assert.Equal(t, uint64(10), bus.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(zerolog.Nop())
	sub := bus.Subscribe(EventExecutionCreated)
	bus.Unsubscribe(sub)

	_, ok := <-sub.C()
	require.False(t, ok)

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventExecutionCreated, NewPayload(EventExecutionCreated))
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	// Publishing must never hit a channel another goroutine is closing.
	bus := New(zerolog.Nop())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		p := NewPayload(EventIssueStatusChanged)
		for {
			select {
			case <-stop:
				return
			default:
				bus.Publish(EventIssueStatusChanged, p)
			}
		}
	}()

	for i := 0; i < 500; i++ {
		sub := bus.Subscribe(EventIssueStatusChanged)
		wild := bus.Subscribe(Wildcard)
		bus.Unsubscribe(sub)
		bus.Unsubscribe(wild)
	}
	close(stop)
	wg.Wait()
}
