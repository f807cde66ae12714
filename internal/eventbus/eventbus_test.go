package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(4)
	go func() { _ = b.Run(ctx) }()

	ch1, unsub1 := b.Subscribe(4)
	ch2, _ := b.Subscribe(4)
	defer unsub1()

	b.Publish(ctx, Event{Kind: KindAgentAssigned, Issue: 42, Agent: "speckit.specify"})

	select {
	case e := <-ch1:
		require.Equal(t, KindAgentAssigned, e.Kind)
		require.Equal(t, 42, e.Issue)
		require.NotEmpty(t, e.ID)
		require.False(t, e.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on ch1")
	}

	select {
	case e := <-ch2:
		require.Equal(t, KindAgentAssigned, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on ch2")
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(4)
	go func() { _ = b.Run(ctx) }()

	ch, unsubscribe := b.Subscribe(4)
	unsubscribe()

	b.Publish(ctx, Event{Kind: KindRecovery, Issue: 1})

	select {
	case e, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event delivered after unsubscribe: %+v", e)
		}
	case <-time.After(100 * time.Millisecond):
		// no delivery, as expected
	}
}
