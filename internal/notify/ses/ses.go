// Package ses implements a Notifier that sends receipts via AWS SES v2.
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

	"github.com/shineum/inkpost/internal/notify"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// Config holds the configuration for creating a Notifier.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
}

// Notifier sends receipts via the AWS SES v2 API.
type Notifier struct {
	sender    string
	client    SendEmailAPI
	baseDelay time.Duration
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new Notifier with the given configuration.
func New(ctx context.Context, cfg Config) (*Notifier, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Notifier with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI) *Notifier {
	return &Notifier{
		sender:    sender,
		client:    client,
		baseDelay: baseRetryDelay,
	}
}

// Notify sends the receipt as a simple HTML and text message, retrying
// transient failures with exponential backoff.
func (n *Notifier) Notify(ctx context.Context, r notify.Receipt) error {
	input, err := buildInput(n.sender, r)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
			if err := sleepWithContext(ctx, n.backoffDelay(attempt-1)); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		_, err := n.client.SendEmail(ctx, input)
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
	}

	return fmt.Errorf("SES API request failed after %d retries: %w", maxRetries, lastErr)
}

// Name returns the notifier name.
func (n *Notifier) Name() string {
	return "ses"
}

// buildInput creates the SES request for a receipt.
func buildInput(sender string, r notify.Receipt) (*sesv2.SendEmailInput, error) {
	html, err := r.HTML()
	if err != nil {
		return nil, err
	}
	text, err := r.Text()
	if err != nil {
		return nil, err
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination: &types.Destination{
			ToAddresses: []string{r.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(r.Title()),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(html),
						Charset: aws.String("UTF-8"),
					},
					Text: &types.Content{
						Data:    aws.String(text),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}, nil
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
func (n *Notifier) backoffDelay(attempt int) time.Duration {
	delay := n.baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
