package service

import (
	"encoding/json"
	"log"
	"time"

	"business-copilot-be/internal/dto"
	"business-copilot-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

type IPublisherService interface {
	PublishExchangeCompleted(msg *dto.ExchangeCompletedMessage)
}

type publisherService struct {
	topicName string
	pubSub    *gochannel.GoChannel
}

func NewPublisherService(topicName string, pubSub *gochannel.GoChannel) IPublisherService {
	return &publisherService{
		topicName: topicName,
		pubSub:    pubSub,
	}
}

// PublishExchangeCompleted is fire-and-forget: telemetry must never fail an
// exchange that already committed.
func (ps *publisherService) PublishExchangeCompleted(msg *dto.ExchangeCompletedMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ERROR] Failed to marshal telemetry event: %v", err)
		return
	}

	event := events.NewEvent(ps.topicName, map[string]interface{}{
		"chat_session_id": msg.ChatSessionId.String(),
	})

	wmMsg := message.NewMessage(uuid.New().String(), payload)
	wmMsg.Metadata.Set("event_type", event.EventType())
	wmMsg.Metadata.Set("occurred_at", event.Timestamp().Format(time.RFC3339))

	if err := ps.pubSub.Publish(ps.topicName, wmMsg); err != nil {
		log.Printf("[ERROR] Failed to publish telemetry event: %v", err)
	}
}
