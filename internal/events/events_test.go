package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestMemoryPublisherKeepsNewest(t *testing.T) {
	p := NewMemoryPublisher(2)
	ctx := context.Background()
	for _, id := range []string{"ord_1", "ord_2", "ord_3"} {
		if err := p.Publish(ctx, Event{Type: OrderPreviewed, OrderID: id}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	got := p.Events()
	if len(got) != 2 || got[0].OrderID != "ord_2" || got[1].OrderID != "ord_3" {
		t.Fatalf("unexpected events: %+v", got)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := p.Publish(cancelled, Event{}); err == nil {
		t.Fatal("expected cancelled context to fail")
	}
}

type recordingChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

func (r *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	r.exchange, r.key, r.msg = exchange, key, msg
	return nil
}

func (r *recordingChannel) Close() error { return nil }

func TestRabbitMQPublisherRoutesByType(t *testing.T) {
	ch := &recordingChannel{}
	p := &RabbitMQPublisher{ch: ch, exchange: "shopmcp.orders"}
	event := Event{Type: OrderConfirmed, OrderID: "ord_1", Status: "confirmed", TotalBase: "45", OccurredAt: time.Unix(100, 0)}

	if err := p.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ch.exchange != "shopmcp.orders" || ch.key != "order.confirmed" {
		t.Fatalf("unexpected routing: %s %s", ch.exchange, ch.key)
	}
	var decoded Event
	if err := json.Unmarshal(ch.msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.OrderID != "ord_1" || ch.msg.MessageId != "ord_1:order.confirmed" {
		t.Fatalf("unexpected message: %+v", ch.msg)
	}
}
