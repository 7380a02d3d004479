package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/stiffinWanjohi/bulkmail/internal/config"
	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends through Amazon SES. The sender address must be a verified
// identity; the app password is not used.
type SES struct {
	client sesAPI
}

// NewSES creates an SES transport. Static credentials are used when both
// keys are set, otherwise the default AWS credential chain applies.
func NewSES(ctx context.Context, cfg config.SESConfig) (*SES, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SES{client: sesv2.NewFromConfig(awsCfg)}, nil
}

func (s *SES) Name() string { return "ses" }

func (s *SES) Send(ctx context.Context, msg domain.Message) domain.SendResult {
	start := time.Now()

	from := msg.Sender.Email
	if msg.Sender.Name != "" {
		from = fmt.Sprintf("%s <%s>", msg.Sender.Name, msg.Sender.Email)
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		log.Warn("ses send failed", "to", logging.RedactEmail(msg.To), "error", err)
		return domain.NewFailureResult(sesStatus(err), err.Error(), elapsedMs(start))
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	return domain.NewSuccessResult(messageID, http.StatusOK, elapsedMs(start))
}

func sesStatus(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}
