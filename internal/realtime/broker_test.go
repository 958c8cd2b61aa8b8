package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBroker(t *testing.T, ctx context.Context, addr string, registry *Registry) *RedisBroker {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	b := NewRedisBroker(client, registry, "test:", quietLogger())
	go func() { _ = b.Run(ctx) }()

	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("broker did not subscribe")
	}
	return b
}

func TestRedisBroker_FansOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	regA, regB := NewRegistry(), NewRegistry()
	brokerA := startBroker(t, ctx, mr.Addr(), regA)
	startBroker(t, ctx, mr.Addr(), regB)

	onA := &recordingSink{id: "a"}
	onB := &recordingSink{id: "b"}
	other := &recordingSink{id: "other"}
	regA.Attach(onA)
	regB.Attach(onB)
	regB.Attach(other)
	regA.Subscribe("a", ChatChannel("c1"))
	regB.Subscribe("b", ChatChannel("c1"))
	regB.Subscribe("other", ChatChannel("c2"))

	require.NoError(t, brokerA.Publish(ctx, ChatChannel("c1"), []byte(`{"event":"new-message"}`)))

	assert.Eventually(t, func() bool {
		return onA.count() == 1 && onB.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, other.count())
}

func TestRedisBroker_RunStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := NewRedisBroker(client, NewRegistry(), "test:", quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	<-b.Ready()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestLocalBroker_Publish(t *testing.T) {
	r := NewRegistry()
	s := &recordingSink{id: "s"}
	r.Attach(s)
	r.Subscribe("s", UserChannel("alice"))

	require.NoError(t, NewLocalBroker(r).Publish(context.Background(), UserChannel("alice"), []byte("x")))
	assert.Equal(t, 1, s.count())
}
