package sns

import (
	"context"
	"encoding/json"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/otp-auth-service/internal/config"
)

// Event is an auth lifecycle notification fanned out to subscribers
// (webhook dispatchers, analytics). Delivery is at-least-once and
// best-effort; the request path never fails on a publish error.
type Event struct {
	Type       string    `json:"type"` // "otp.requested" | "login.succeeded" | "session.restored"
	CustomerID string    `json:"customer_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	TenantID   string    `json:"tenant_id,omitempty"`
	At         time.Time `json:"at"`
}

// Notifier publishes auth events.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

type publisher struct {
	client   *sns.Client
	topicARN string
}

func NewNotifier(cfg *config.Config) (Notifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		return nil, err
	}
	return &publisher{client: sns.NewFromConfig(awsCfg), topicARN: cfg.SNSTopicARN}, nil
}

func (p *publisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := string(body)
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: &p.topicARN,
		Message:  &msg,
	})
	return err
}
