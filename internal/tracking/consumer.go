package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/pkg/logger"
	"github.com/ignite/broadcast/internal/service/suppression"
)

const (
	receiveBatch    = 10
	longPollSeconds = 20
	receiveBackoff  = 5 * time.Second
)

// Consumer drains the tracking queue into the store.
type Consumer struct {
	client   SQSAPI
	queueURL string
	sink     suppression.EventRecorder
	waitSecs int32
}

func NewConsumer(client SQSAPI, queueURL string, sink suppression.EventRecorder) *Consumer {
	return &Consumer{client: client, queueURL: queueURL, sink: sink, waitSecs: longPollSeconds}
}

// Run long-polls until ctx is cancelled. Receive errors back off and retry.
func (c *Consumer) Run(ctx context.Context) error {
	logger.Info("tracking consumer started", "queue", c.queueURL)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("sqs receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveBackoff):
			}
		}
	}
}

// poll processes one receive batch and returns how many messages were
// stored.
func (c *Consumer) poll(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: receiveBatch,
		WaitTimeSeconds:     c.waitSecs,
	})
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, msg := range out.Messages {
		var ev domain.Event
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &ev); err != nil || !ev.Type.Valid() {
			logger.Warn("dropping malformed tracking message", "message_id", aws.ToString(msg.MessageId))
			c.delete(ctx, msg.ReceiptHandle)
			continue
		}

		if err := c.sink.RecordEvent(ctx, &ev); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// The send no longer exists; redelivery cannot help.
				logger.Debug("tracking event for unknown send", "send_id", ev.SendID, "type", ev.Type)
				c.delete(ctx, msg.ReceiptHandle)
				continue
			}
			// Left on the queue; visibility timeout brings it back.
			logger.Error("tracking event not stored", "send_id", ev.SendID, "type", ev.Type, "error", err)
			continue
		}
		stored++
		c.delete(ctx, msg.ReceiptHandle)
	}
	return stored, nil
}

func (c *Consumer) delete(ctx context.Context, handle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		logger.Warn("sqs delete failed", "error", err)
	}
}
