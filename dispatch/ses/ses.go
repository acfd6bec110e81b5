// Package ses dispatches conversation notifications as email via the
// AWS SES v2 API.
package ses

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/mdevan/converse"
	"github.com/mdevan/converse/retry"
	"github.com/mdevan/converse/store"
)

// Config holds the settings for creating a Dispatcher.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Sender is the verified From address.
	Sender string

	// Resolver turns recipient user IDs into email addresses. Required.
	Resolver converse.RecipientResolver

	// Retry controls backoff for transient SES failures. The zero value
	// uses the retry package defaults.
	Retry retry.Config

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Dispatcher implements converse.NotificationDispatcher on top of SES.
// Recipients whose IDs cannot be resolved to an email address are
// skipped with a log line rather than failing the whole dispatch.
type Dispatcher struct {
	sender   string
	client   SendEmailAPI
	resolver converse.RecipientResolver
	retryCfg retry.Config
	logger   *slog.Logger
}

var _ converse.NotificationDispatcher = (*Dispatcher)(nil)

// New creates a Dispatcher with the given configuration.
func New(ctx context.Context, cfg Config) (*Dispatcher, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("ses: resolver is required")
	}
	if cfg.Sender == "" {
		return nil, fmt.Errorf("ses: sender address is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ses: load AWS config: %w", err)
	}

	d := newWithClient(cfg, sesv2.NewFromConfig(awsCfg))
	return d, nil
}

// NewWithClient creates a Dispatcher with a custom client, used for
// testing.
func NewWithClient(cfg Config, client SendEmailAPI) (*Dispatcher, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("ses: resolver is required")
	}
	if cfg.Sender == "" {
		return nil, fmt.Errorf("ses: sender address is required")
	}
	return newWithClient(cfg, client), nil
}

func newWithClient(cfg Config, client SendEmailAPI) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:   cfg.Sender,
		client:   client,
		resolver: cfg.Resolver,
		retryCfg: cfg.Retry,
		logger:   logger,
	}
}

// Dispatch emails every resolvable recipient about the message. The
// send is one SES call with all recipients in Bcc, retried on
// transient failures.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *store.Message, conv *store.Conversation, recipientIDs []string) error {
	if len(recipientIDs) == 0 {
		return nil
	}

	recipients, err := d.resolver.ResolveBatch(ctx, recipientIDs)
	if err != nil {
		return fmt.Errorf("ses: resolve recipients: %w", err)
	}

	addresses := make([]string, 0, len(recipients))
	for i, r := range recipients {
		if r == nil || r.Email == "" {
			d.logger.Debug("skipping recipient without email",
				"user_id", recipientIDs[i],
				"conversation_id", conv.ID)
			continue
		}
		addresses = append(addresses, r.Email)
	}
	if len(addresses) == 0 {
		return nil
	}

	input := d.buildInput(msg, conv, addresses)

	start := time.Now()
	err = retry.Do(ctx, d.retryCfg, func(ctx context.Context) error {
		_, sendErr := d.client.SendEmail(ctx, input)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("ses: send email: %w", err)
	}

	d.logger.Debug("dispatched notification email",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"recipients", len(addresses),
		"duration", time.Since(start))
	return nil
}

func (d *Dispatcher) buildInput(msg *store.Message, conv *store.Conversation, addresses []string) *sesv2.SendEmailInput {
	subject := conv.Subject
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(d.sender),
		Destination: &types.Destination{
			BccAddresses: addresses,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(msg.Body),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
}
