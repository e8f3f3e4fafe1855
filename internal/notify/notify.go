// Package notify alerts operators when a failed profile update is abandoned.
package notify

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	awsclient "github.com/InternetOfUs/app-survey/internal/common/aws"
	"github.com/InternetOfUs/app-survey/internal/common/config"
	"github.com/InternetOfUs/app-survey/internal/common/errors"
	"github.com/InternetOfUs/app-survey/internal/models"
	"github.com/InternetOfUs/app-survey/internal/pipeline"
)

// Subject is the alert title.
func Subject(rec models.FailedUpdateRecord) string {
	return fmt.Sprintf("Profile update abandoned for user %s", rec.SubjectID)
}

// Body is the plain-text alert.
func Body(rec models.FailedUpdateRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The profile update of user %s was retried %d times and has been dropped.\n", rec.SubjectID, rec.RetryCount)
	fmt.Fprintf(&b, "Last failure: %s\n", rec.FailureTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Survey answer:\n%s\n", rec.RawSurveyAnswer)
	return b.String()
}

type SNSNotifier struct {
	client   awsclient.SNSAPI
	topicARN string
}

func NewSNSNotifier(client awsclient.SNSAPI, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

func (n *SNSNotifier) NotifyExhausted(ctx context.Context, rec models.FailedUpdateRecord) error {
	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(Subject(rec)),
		Message:  aws.String(Body(rec)),
	})
	if err != nil {
		return errors.NewNotificationSendFailedError("sns", err)
	}
	return nil
}

type SESNotifier struct {
	client awsclient.SESAPI
	from   string
	to     []string
}

func NewSESNotifier(client awsclient.SESAPI, from string, to []string) *SESNotifier {
	return &SESNotifier{client: client, from: from, to: to}
}

func (n *SESNotifier) NotifyExhausted(ctx context.Context, rec models.FailedUpdateRecord) error {
	_, err := n.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(n.from),
		Destination: &sestypes.Destination{ToAddresses: n.to},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(Subject(rec)), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(Body(rec)), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return errors.NewNotificationSendFailedError("email", err)
	}
	return nil
}

// Multi sends to every channel and joins their errors.
type Multi []pipeline.Notifier

func (m Multi) NotifyExhausted(ctx context.Context, rec models.FailedUpdateRecord) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyExhausted(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// New builds the enabled channels. It returns nil when none is enabled.
func New(ctx context.Context, cfg config.NotificationConfig) (pipeline.Notifier, error) {
	var out Multi

	if cfg.SNS.Enabled {
		client, err := awsclient.NewSNSClient(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("sns client: %w", err)
		}
		out = append(out, NewSNSNotifier(client, cfg.SNS.TopicARN))
	}
	if cfg.Email.Enabled {
		client, err := awsclient.NewSESClient(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("ses client: %w", err)
		}
		out = append(out, NewSESNotifier(client, cfg.Email.FromEmail, cfg.Email.To))
	}

	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
