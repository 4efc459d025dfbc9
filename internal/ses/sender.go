// Package ses delivers campaign email through Amazon SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/ignite/broadcast/internal/config"
	"github.com/ignite/broadcast/internal/pkg/logger"
	"github.com/ignite/broadcast/internal/service/sending"
)

const providerName = "ses"

// API is the subset of the SES v2 client the sender uses.
type API interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, in *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// Sender implements sending.Sender on top of SES SendEmail.
type Sender struct {
	api              API
	from             string
	replyTo          string
	configurationSet string
}

// NewSender builds an SES client. Static credentials are used when both
// keys are configured; otherwise the default AWS credential chain applies
// (instance role, environment, shared profile).
func NewSender(ctx context.Context, cfg appconfig.SESConfig) (*Sender, error) {
	if cfg.FromEmail == "" {
		return nil, errors.New("ses: from address is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if t := cfg.Timeout(); t > 0 {
			o.HTTPClient = newHTTPClient(t)
		}
	})
	return NewSenderWithAPI(client, cfg), nil
}

// NewSenderWithAPI wraps an existing client, for tests and custom endpoints.
func NewSenderWithAPI(api API, cfg appconfig.SESConfig) *Sender {
	return &Sender{
		api:              api,
		from:             cfg.From(),
		replyTo:          cfg.ReplyTo,
		configurationSet: cfg.ConfigurationSet,
	}
}

// Send delivers one message and returns the SES message id. Any failure is
// a *sending.TransportError.
func (s *Sender) Send(ctx context.Context, to, subject, html string) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(html), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if s.replyTo != "" {
		input.ReplyToAddresses = []string{s.replyTo}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.api.SendEmail(ctx, input)
	if err != nil {
		return "", &sending.TransportError{Provider: providerName, Err: err}
	}
	messageID := aws.ToString(out.MessageId)
	logger.Debug("ses accepted message", "to", to, "message_id", messageID)
	return messageID, nil
}

// Quota is the account's current sending allowance.
type Quota struct {
	MaxSendRate     float64
	Max24HourSend   float64
	SentLast24Hours float64
	SendingEnabled  bool
}

// Quota reads the account sending limits, used at startup to warn when the
// configured rate exceeds what SES allows.
func (s *Sender) Quota(ctx context.Context) (*Quota, error) {
	out, err := s.api.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return nil, fmt.Errorf("ses get account: %w", err)
	}
	q := &Quota{SendingEnabled: out.SendingEnabled}
	if out.SendQuota != nil {
		q.MaxSendRate = out.SendQuota.MaxSendRate
		q.Max24HourSend = out.SendQuota.Max24HourSend
		q.SentLast24Hours = out.SendQuota.SentLast24Hours
	}
	return q, nil
}
