package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"simoj/internal/common/mq"
	"simoj/internal/judge/model"
	appErr "simoj/pkg/errors"
)

type recordingProducer struct {
	topics   []string
	messages []*mq.Message
	err      error
}

func (p *recordingProducer) Publish(_ context.Context, topic string, message *mq.Message) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func TestMQEventPublisherVerdict(t *testing.T) {
	producer := &recordingProducer{}
	pub := NewMQEventPublisher(producer, "verdicts", "ranks")
	points := int64(80)
	event := model.VerdictEvent{SubmissionID: 7, UserID: 1, RoundID: 2, TaskID: 3, Status: model.StatusOK, Points: &points, JudgedAt: time.Unix(100, 0).UTC()}

	if err := pub.PublishVerdict(context.Background(), event); err != nil {
		t.Fatalf("PublishVerdict: %v", err)
	}
	if len(producer.messages) != 1 || producer.topics[0] != "verdicts" {
		t.Fatalf("unexpected publish: %v", producer.topics)
	}
	msg := producer.messages[0]
	if msg.ID != "submission:7" || msg.Headers["event"] != "verdict" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var decoded model.VerdictEvent
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SubmissionID != 7 || decoded.Points == nil || *decoded.Points != 80 {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestMQEventPublisherErrors(t *testing.T) {
	if err := NewMQEventPublisher(&recordingProducer{}, "v", "r").PublishVerdict(context.Background(), model.VerdictEvent{}); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
	failing := &recordingProducer{err: errors.New("broker down")}
	err := NewMQEventPublisher(failing, "v", "r").PublishRank(context.Background(), model.RankEvent{UserID: 1, RoundID: 2, Points: 3})
	if !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
	var nilPub *MQEventPublisher
	if err := nilPub.PublishRank(context.Background(), model.RankEvent{}); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("nil publisher must report ServiceUnavailable, got %v", err)
	}
}

func TestMQEventPublisherSkipsEmptyTopic(t *testing.T) {
	producer := &recordingProducer{}
	pub := NewMQEventPublisher(producer, "verdicts", "")
	if err := pub.PublishRank(context.Background(), model.RankEvent{UserID: 1, RoundID: 1}); err != nil {
		t.Fatalf("PublishRank: %v", err)
	}
	if len(producer.messages) != 0 {
		t.Fatalf("rank event published without a topic")
	}
}
