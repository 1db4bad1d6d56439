package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"simoj/internal/common/mq"
	"simoj/internal/judge/model"
	appErr "simoj/pkg/errors"
)

// EventPublisher announces verdicts and rank changes to downstream consumers.
type EventPublisher interface {
	PublishVerdict(ctx context.Context, event model.VerdictEvent) error
	PublishRank(ctx context.Context, event model.RankEvent) error
}

// MQEventPublisher publishes events to a message queue.
type MQEventPublisher struct {
	producer     mq.Producer
	verdictTopic string
	rankTopic    string
}

// NewMQEventPublisher creates a publisher; an empty topic disables that event kind.
func NewMQEventPublisher(producer mq.Producer, verdictTopic, rankTopic string) *MQEventPublisher {
	return &MQEventPublisher{producer: producer, verdictTopic: verdictTopic, rankTopic: rankTopic}
}

// PublishVerdict publishes a terminal verdict keyed by submission id.
func (p *MQEventPublisher) PublishVerdict(ctx context.Context, event model.VerdictEvent) error {
	if p == nil {
		return errPublisherNotConfigured()
	}
	if event.SubmissionID <= 0 {
		return appErr.ValidationError("submission_id", "required")
	}
	return p.publish(ctx, p.verdictTopic, "verdict", "submission:"+strconv.FormatInt(event.SubmissionID, 10), event)
}

// PublishRank publishes a rank change keyed by round and user.
func (p *MQEventPublisher) PublishRank(ctx context.Context, event model.RankEvent) error {
	if p == nil {
		return errPublisherNotConfigured()
	}
	key := fmt.Sprintf("rank:%d:%d", event.RoundID, event.UserID)
	return p.publish(ctx, p.rankTopic, "rank", key, event)
}

func (p *MQEventPublisher) publish(ctx context.Context, topic, kind, key string, event interface{}) error {
	if p.producer == nil {
		return errPublisherNotConfigured()
	}
	if topic == "" {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event failed: %w", kind, err)
	}
	message := &mq.Message{
		ID:      key,
		Body:    payload,
		Headers: map[string]string{"event": kind},
	}
	if err := p.producer.Publish(ctx, topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish %s event failed", kind)
	}
	return nil
}

func errPublisherNotConfigured() error {
	return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
}

// NopEventPublisher drops every event.
type NopEventPublisher struct{}

func (NopEventPublisher) PublishVerdict(context.Context, model.VerdictEvent) error { return nil }

func (NopEventPublisher) PublishRank(context.Context, model.RankEvent) error { return nil }
