package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/evicertia/pn-ec/internal/model"
)

func newRedisTestConsumer(t *testing.T, handler Handler, redeliveryDelay time.Duration) (*RedisConsumer, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := NewRedisConsumer(client, "test-queue", "test-group", handler, ConsumerConfig{
		WorkerCount:     1,
		ShutdownTimeout: 5 * time.Second,
		RedeliveryDelay: redeliveryDelay,
	}, zerolog.Nop())

	if err := client.XGroupCreateMkStream(context.Background(), streamKey("test-queue"), "test-group", "0").Err(); err != nil {
		t.Fatalf("create group: %v", err)
	}
	return c, client
}

// popEntry delivers the next stream entry to the given consumer name,
// moving it onto the group's pending list the way runWorker does.
func popEntry(t *testing.T, client *redis.Client, consumerName string) redis.XMessage {
	t.Helper()
	streams, err := client.XReadGroup(context.Background(), &redis.XReadGroupArgs{
		Group:    "test-group",
		Consumer: consumerName,
		Streams:  []string{streamKey("test-queue"), ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	if err != nil {
		t.Fatalf("xreadgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one entry, got %+v", streams)
	}
	return streams[0].Messages[0]
}

func seedStreamMessage(t *testing.T, client *redis.Client) *Message {
	t.Helper()
	msg := NewMessage(&model.Request{
		RequestID: "req-1",
		ClientID:  "client-a",
		Channel:   model.ChannelSMS,
		SMS:       &model.SMSPayload{ReceiverNumber: "+393331234567", MessageText: "hi"},
	})
	if _, err := NewRedisEnqueuer(client).Enqueue(context.Background(), "test-queue", msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return msg
}

func streamCounts(t *testing.T, client *redis.Client) (length, pending int64) {
	t.Helper()
	length, err := client.XLen(context.Background(), streamKey("test-queue")).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	p, err := client.XPending(context.Background(), streamKey("test-queue"), "test-group").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	return length, p.Count
}

func TestRedisConsumerAckRemovesEntry(t *testing.T) {
	var handled *Message
	c, client := newRedisTestConsumer(t, HandlerFunc(func(_ context.Context, msg *Message) (Disposition, error) {
		handled = msg
		return Ack, nil
	}), time.Minute)

	seedStreamMessage(t, client)
	c.processEntry(context.Background(), popEntry(t, client, "worker-0"))

	if handled == nil || handled.Request.RequestID != "req-1" {
		t.Fatalf("handler did not receive the decoded message: %+v", handled)
	}
	length, pending := streamCounts(t, client)
	if length != 0 || pending != 0 {
		t.Errorf("Ack must remove the entry, got length=%d pending=%d", length, pending)
	}
}

func TestRedisConsumerRequeueKeepsEntryDurable(t *testing.T) {
	c, client := newRedisTestConsumer(t, HandlerFunc(func(context.Context, *Message) (Disposition, error) {
		return Requeue, nil
	}), time.Minute)

	seedStreamMessage(t, client)
	c.processEntry(context.Background(), popEntry(t, client, "worker-0"))

	// The entry must survive in Redis itself: a process crash or Stop()
	// between the requeue decision and the next delivery cannot lose it.
	length, pending := streamCounts(t, client)
	if length != 1 {
		t.Fatalf("Requeue must keep the entry in the stream, got length=%d", length)
	}
	if pending != 1 {
		t.Errorf("Requeue must leave the entry pending for redelivery, got pending=%d", pending)
	}
}

func TestRedisConsumerRequeueRedeliveredAfterDelay(t *testing.T) {
	var calls int
	handler := HandlerFunc(func(context.Context, *Message) (Disposition, error) {
		calls++
		if calls == 1 {
			return Requeue, nil
		}
		return Ack, nil
	})
	c, client := newRedisTestConsumer(t, handler, time.Millisecond)

	seedStreamMessage(t, client)
	c.processEntry(context.Background(), popEntry(t, client, "worker-0"))

	// A later pass, possibly in another process, reclaims the pending entry
	// once it has sat idle past the redelivery delay.
	time.Sleep(20 * time.Millisecond)
	c.reclaimStale(context.Background(), "worker-1")

	if calls != 2 {
		t.Fatalf("expected the entry to be redelivered, handler ran %d times", calls)
	}
	length, pending := streamCounts(t, client)
	if length != 0 || pending != 0 {
		t.Errorf("second pass acked, got length=%d pending=%d", length, pending)
	}
}

func TestRedisConsumerHandlerErrorLeavesPending(t *testing.T) {
	c, client := newRedisTestConsumer(t, HandlerFunc(func(context.Context, *Message) (Disposition, error) {
		return Ack, errors.New("repository down")
	}), time.Minute)

	seedStreamMessage(t, client)
	c.processEntry(context.Background(), popEntry(t, client, "worker-0"))

	length, pending := streamCounts(t, client)
	if length != 1 || pending != 1 {
		t.Errorf("a handler error must leave the entry for redelivery, got length=%d pending=%d", length, pending)
	}
}

func TestRedisConsumerMalformedEntryDropped(t *testing.T) {
	called := false
	c, client := newRedisTestConsumer(t, HandlerFunc(func(context.Context, *Message) (Disposition, error) {
		called = true
		return Ack, nil
	}), time.Minute)

	if err := client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: streamKey("test-queue"),
		Values: map[string]interface{}{"data": "{not json"},
	}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}
	c.processEntry(context.Background(), popEntry(t, client, "worker-0"))

	if called {
		t.Error("malformed entries must not reach the handler")
	}
	length, pending := streamCounts(t, client)
	if length != 0 || pending != 0 {
		t.Errorf("malformed entries must be dropped, got length=%d pending=%d", length, pending)
	}
}
