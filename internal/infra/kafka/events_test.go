package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/infra/config"
)

func newMockPublisher(t *testing.T, prefix string, expected int) (*EventPublisher, *Producer, chan *sarama.ProducerMessage) {
	t.Helper()
	async := mocks.NewAsyncProducer(t, nil)
	captured := make(chan *sarama.ProducerMessage, expected)
	for i := 0; i < expected; i++ {
		async.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			captured <- msg
			return nil
		})
	}
	producer := NewProducerFrom(async, config.KafkaSettings{TopicPrefix: prefix}, zaptest.NewLogger(t))
	publisher := NewEventPublisher(producer, config.AppSettings{Name: "zk-tenant-iam", Env: "test"}, zaptest.NewLogger(t))
	return publisher, producer, captured
}

func receive(t *testing.T, captured chan *sarama.ProducerMessage) (*sarama.ProducerMessage, map[string]any) {
	t.Helper()
	select {
	case msg := <-captured:
		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}
		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		return msg, envelope
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	return nil, nil
}

func TestPublishUserRegistered(t *testing.T) {
	publisher, producer, captured := newMockPublisher(t, "prod", 1)

	registeredAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	err := publisher.PublishUserRegistered(context.Background(), domain.UserRegisteredEvent{
		EventID:      "event-1",
		UserID:       "user-1",
		Username:     "alice",
		RegisteredAt: registeredAt,
		ProofEngine:  "groth16",
	})
	if err != nil {
		t.Fatalf("PublishUserRegistered returned error: %v", err)
	}

	msg, envelope := receive(t, captured)
	if msg.Topic != "prod.iam.user.registered" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	key, _ := msg.Key.Encode()
	if string(key) != "user-1" {
		t.Fatalf("unexpected key: %s", key)
	}
	if envelope["event_id"] != "event-1" || envelope["event_type"] != TopicUserRegistered {
		t.Fatalf("unexpected envelope: %v", envelope)
	}
	if envelope["timestamp"] != registeredAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp: %v", envelope["timestamp"])
	}
	payload := envelope["payload"].(map[string]any)
	if payload["username"] != "alice" || payload["proof_engine"] != "groth16" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	metadata := envelope["metadata"].(map[string]any)
	if metadata["service"] != "zk-tenant-iam" || metadata["environment"] != "test" {
		t.Fatalf("unexpected metadata: %v", metadata)
	}

	if err := producer.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestPublishRoleEventsRouteByChange(t *testing.T) {
	publisher, producer, captured := newMockPublisher(t, "", 3)
	ctx := context.Background()

	if err := publisher.PublishRoleChanged(ctx, domain.RoleChangedEvent{Change: domain.RoleDeleted, RoleID: "r1", TenantID: "acme"}); err != nil {
		t.Fatalf("PublishRoleChanged returned error: %v", err)
	}
	if err := publisher.PublishRoleAssignment(ctx, domain.RoleAssignmentEvent{Assigned: true, UserID: "u1", RoleID: "r1", TenantID: "acme"}); err != nil {
		t.Fatalf("PublishRoleAssignment returned error: %v", err)
	}
	if err := publisher.PublishRoleAssignment(ctx, domain.RoleAssignmentEvent{Assigned: false, UserID: "u1", RoleID: "r1"}); err != nil {
		t.Fatalf("PublishRoleAssignment returned error: %v", err)
	}

	expected := []struct{ topic, key string }{
		{TopicRoleDeleted, "acme"},
		{TopicRoleAssigned, "acme"},
		{TopicRoleUnassigned, "u1"},
	}
	for _, want := range expected {
		msg, envelope := receive(t, captured)
		if msg.Topic != want.topic {
			t.Fatalf("topic = %s, want %s", msg.Topic, want.topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != want.key {
			t.Fatalf("key = %s, want %s", key, want.key)
		}
		if envelope["event_id"] == "" {
			t.Fatal("expected generated event id")
		}
	}

	if err := publisher.PublishRoleChanged(ctx, domain.RoleChangedEvent{Change: "renamed"}); err == nil {
		t.Fatal("expected error for unknown change")
	}

	if err := producer.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestPublishAccessAudit(t *testing.T) {
	publisher, producer, captured := newMockPublisher(t, "", 1)

	event := domain.AuditEvent{
		ID:        "audit-1",
		UserID:    "u1",
		TenantID:  "acme",
		Operation: "roles.delete",
		Stage:     "authorization",
		Outcome:   domain.AuditDenied,
		Reason:    domain.KindPermissionDenied,
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishAccessAudit(context.Background(), event); err != nil {
		t.Fatalf("PublishAccessAudit returned error: %v", err)
	}

	msg, envelope := receive(t, captured)
	if msg.Topic != TopicAccessAudit {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	payload := envelope["payload"].(map[string]any)
	if payload["outcome"] != "denied" || payload["reason"] != string(domain.KindPermissionDenied) {
		t.Fatalf("unexpected payload: %v", payload)
	}

	if err := producer.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	async := mocks.NewAsyncProducer(t, nil)
	producer := &Producer{producer: blockedInput{async}, logger: zaptest.NewLogger(t), done: make(chan struct{}), drained: make(chan struct{})}
	close(producer.drained)
	publisher := NewEventPublisher(producer, config.AppSettings{}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := publisher.PublishAccessAudit(ctx, domain.AuditEvent{ID: "a"}); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	_ = async.Close()
}

// blockedInput never accepts messages.
type blockedInput struct {
	*mocks.AsyncProducer
}

func (blockedInput) Input() chan<- *sarama.ProducerMessage {
	return make(chan *sarama.ProducerMessage)
}

func TestTopicName(t *testing.T) {
	p := &Producer{cfg: config.KafkaSettings{TopicPrefix: "staging"}}
	if got := p.TopicName(TopicAccessAudit); got != "staging.iam.access.audit" {
		t.Fatalf("unexpected topic: %s", got)
	}
	if got := p.TopicName("staging.iam.access.audit"); got != "staging.iam.access.audit" {
		t.Fatalf("prefix applied twice: %s", got)
	}
}
