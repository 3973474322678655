// Package queue publishes low-availability forecasts to SQS for downstream
// consumers such as notification workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"crowdpark/internal/types"
)

// EventTypeLowAvailability is the event_type message attribute value.
const EventTypeLowAvailability = "carpark.low_availability"

// SQSSender abstracts the SQS SendMessage operation for testability.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AlertPublisher sends LowAvailabilityEvents to one queue.
type AlertPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewAlertPublisher creates a publisher for queueURL.
func NewAlertPublisher(client SQSSender, queueURL string, logger *slog.Logger) *AlertPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertPublisher{client: client, queueURL: queueURL, logger: logger}
}

// PublishLowAvailability assigns an event ID when the event has none and
// sends it as JSON. The request ID, when present, travels as an attribute.
func (p *AlertPublisher) PublishLowAvailability(ctx context.Context, event types.LowAvailabilityEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal LowAvailabilityEvent: %w", err)
	}

	attrs := map[string]sqsTypes.MessageAttributeValue{
		"event_type": {
			DataType:    aws.String("String"),
			StringValue: aws.String(EventTypeLowAvailability),
		},
		"prediction": {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.Itoa(event.Prediction)),
		},
	}
	if rid := types.GetRequestID(ctx); rid != "" {
		attrs["request_id"] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(rid),
		}
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("queue: failed to send LowAvailabilityEvent to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "low availability event sent",
		"queue_url", p.queueURL,
		"event_id", event.EventID,
		"address", event.Address,
		"prediction", event.Prediction,
	)
	return nil
}
