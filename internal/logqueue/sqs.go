package logqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ledgergate/ledgergate/internal/domain"
)

// sqsAPI is the slice of the SQS client the queue uses, for test doubles.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue is the managed-queue backend for deployments that already run on
// AWS. Messages are deleted only after a successful receive, so a crashed
// worker redelivers rather than loses records.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
}

func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Enqueue(ctx context.Context, record domain.LogRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("send log record: %w", err)
	}
	return nil
}

func (q *SQSQueue) DequeueBatch(ctx context.Context, max int) ([]domain.LogRecord, error) {
	if max > 10 {
		max = 10 // SQS receive cap
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(max),
	})
	if err != nil {
		return nil, fmt.Errorf("receive log records: %w", err)
	}

	records := make([]domain.LogRecord, 0, len(out.Messages))
	for _, msg := range out.Messages {
		var r domain.LogRecord
		if msg.Body != nil {
			if err := json.Unmarshal([]byte(*msg.Body), &r); err == nil {
				records = append(records, r)
			}
		}
		_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		})
		if err != nil {
			return records, fmt.Errorf("delete log record: %w", err)
		}
	}
	return records, nil
}
