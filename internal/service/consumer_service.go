package service

import (
	"context"
	"encoding/json"

	"business-copilot-be/internal/dto"
	"business-copilot-be/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService drains exchange telemetry events and writes them to the
// structured log. It runs for the lifetime of the process.
type consumerService struct {
	pubSub    *gochannel.GoChannel
	topicName string
	logger    logger.ILogger
}

func NewConsumerService(pubSub *gochannel.GoChannel, topicName string, log logger.ILogger) IConsumerService {
	return &consumerService{
		pubSub:    pubSub,
		topicName: topicName,
		logger:    log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.pubSub.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(msg *message.Message) {
	var payload dto.ExchangeCompletedMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		cs.logger.Error("telemetry", "failed to unmarshal exchange event", map[string]interface{}{
			"error": err.Error(),
		})
		msg.Ack() // invalid payloads are not retriable
		return
	}

	cs.logger.Info("telemetry", "exchange completed", map[string]interface{}{
		"session_id":     payload.ChatSessionId.String(),
		"user_id":        payload.UserId.String(),
		"question_chars": payload.QuestionChars,
		"answer_chars":   payload.AnswerChars,
		"thought_chars":  payload.ThoughtChars,
		"dataset_chars":  payload.DatasetChars,
		"query_count":    payload.QueryCount,
		"cache_status":   payload.CacheStatus,
		"duration_ms":    payload.DurationMs,
	})
	msg.Ack()
}
