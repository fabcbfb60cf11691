package logqueue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ledgergate/ledgergate/internal/domain"
)

type mockSQS struct {
	SendMessageFunc    func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessageFunc func(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageFunc  func(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	deleted            []string
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	return m.SendMessageFunc(ctx, params, optFns...)
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return m.ReceiveMessageFunc(ctx, params, optFns...)
}

func (m *mockSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.deleted = append(m.deleted, *params.ReceiptHandle)
	if m.DeleteMessageFunc != nil {
		return m.DeleteMessageFunc(ctx, params, optFns...)
	}
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueEnqueue(t *testing.T) {
	var sent string
	mock := &mockSQS{
		SendMessageFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			if *params.QueueUrl != "https://sqs/queue" {
				t.Errorf("queue url = %q", *params.QueueUrl)
			}
			sent = *params.MessageBody
			return &sqs.SendMessageOutput{}, nil
		},
	}

	q := &SQSQueue{client: mock, queueURL: "https://sqs/queue"}
	if err := q.Enqueue(context.Background(), domain.LogRecord{ID: "log-1", Cost: 2}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var rec domain.LogRecord
	if err := json.Unmarshal([]byte(sent), &rec); err != nil {
		t.Fatalf("unmarshal sent body: %v", err)
	}
	if rec.ID != "log-1" || rec.Cost != 2 {
		t.Errorf("sent record = %+v", rec)
	}
}

func TestSQSQueueDequeueBatch(t *testing.T) {
	body, _ := json.Marshal(domain.LogRecord{ID: "log-1"})
	mock := &mockSQS{
		ReceiveMessageFunc: func(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
			if params.MaxNumberOfMessages != 10 {
				t.Errorf("max messages = %d, want the SQS cap", params.MaxNumberOfMessages)
			}
			return &sqs.ReceiveMessageOutput{Messages: []types.Message{
				{Body: aws.String(string(body)), ReceiptHandle: aws.String("rh-1")},
				{Body: aws.String("not json"), ReceiptHandle: aws.String("rh-2")},
			}}, nil
		},
	}

	q := &SQSQueue{client: mock, queueURL: "https://sqs/queue"}
	records, err := q.DequeueBatch(context.Background(), 50)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(records) != 1 || records[0].ID != "log-1" {
		t.Errorf("records = %+v", records)
	}
	if len(mock.deleted) != 2 {
		t.Errorf("deleted = %v, every received message must be deleted", mock.deleted)
	}
}
