// Package notify publishes billing events to an SNS topic so downstream
// consumers (invoicing, alerting) hear about balance changes without polling
// the database. Publishing is best-effort: a failed publish is logged, never
// propagated into the billing path.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type Event struct {
	Type           string    `json:"type"`
	OrganizationID string    `json:"organization_id"`
	Amount         float64   `json:"amount"`
	Balance        float64   `json:"balance,omitempty"`
	At             time.Time `json:"at"`
}

const (
	EventCreditsDebited = "credits.debited"
	EventTopUpCharged   = "top_up.charged"
	EventTopUpFailed    = "top_up.failed"
)

type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSNotifier struct {
	client   snsAPI
	topicARN string
}

func NewSNSNotifier(client *sns.Client, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

func (n *SNSNotifier) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal billing event: %w", err)
	}
	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Message:  aws.String(string(payload)),
		Subject:  aws.String(event.Type),
	})
	if err != nil {
		return fmt.Errorf("publish billing event: %w", err)
	}
	return nil
}

// NopNotifier discards events. Used when no topic is configured.
type NopNotifier struct{}

func (NopNotifier) Publish(ctx context.Context, event Event) error { return nil }
