package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// sesAPI is the subset of the SES client used here
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends email notifications using AWS SES
type SESNotifier struct {
	client      sesAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESNotifier loads the default AWS config for region
func NewSESNotifier(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newSESNotifier(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func newSESNotifier(client sesAPI, fromAddress string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

func (s *SESNotifier) Notify(ctx context.Context, msg Message) error {
	if msg.Channel != models.ChannelEmail {
		return fmt.Errorf("%w: ses cannot deliver %s", ErrNoRoute, msg.Channel)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(msg.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", logger.SanitizedEmail(msg.To)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("notification email sent",
		slog.String("email", logger.SanitizedEmail(msg.To)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}
