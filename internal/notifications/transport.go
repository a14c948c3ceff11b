package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/multierr"
)

// Transport delivers a notification to one validator
type Transport interface {
	Send(ctx context.Context, n ValidatorNotification, to Recipient) error
}

// Multi fans a notification out to every transport. A transport returning
// ErrNoAddress is skipped; the send fails only if no transport delivered.
type Multi []Transport

func (m Multi) Send(ctx context.Context, n ValidatorNotification, to Recipient) error {
	var errs error
	delivered := 0
	for _, t := range m {
		err := t.Send(ctx, n, to)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrNoAddress):
		default:
			errs = multierr.Append(errs, err)
		}
	}
	if delivered > 0 {
		return nil
	}
	if errs == nil {
		return ErrNoAddress
	}
	return errs
}

// Subject is the one-line summary of a notification
func Subject(n ValidatorNotification) string {
	return fmt.Sprintf("New validation request: %s", n.ProjectTitle)
}

// Body is the plain-text message of a notification
func Body(n ValidatorNotification, to Recipient) string {
	return fmt.Sprintf(
		"Hello %s,\n\nYou have been selected to validate %q, about %.0f km from you.\n"+
			"Reward: %.2f\nRespond before: %s\nNotification: %s\n",
		to.Name, n.ProjectTitle, n.EstimatedDistanceKm, n.Reward,
		n.Deadline.UTC().Format("2006-01-02 15:04 MST"), n.ID,
	)
}

// SNSPublisher is the subset of the SNS client used for SMS delivery
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSTransport sends SMS to the validator phone, or publishes to a topic
// when the validator has none and a topic is configured
type SNSTransport struct {
	client   SNSPublisher
	topicARN string
}

// NewSNSTransport creates an SNS transport
func NewSNSTransport(client SNSPublisher, topicARN string) *SNSTransport {
	return &SNSTransport{client: client, topicARN: topicARN}
}

func (t *SNSTransport) Send(ctx context.Context, n ValidatorNotification, to Recipient) error {
	input := &sns.PublishInput{
		Subject: aws.String(Subject(n)),
		Message: aws.String(Body(n, to)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"validator_address": {DataType: aws.String("String"), StringValue: aws.String(to.Address)},
			"project_id":        {DataType: aws.String("String"), StringValue: aws.String(n.ProjectID)},
		},
	}
	switch {
	case to.Contact.Phone != "":
		input.PhoneNumber = aws.String(to.Contact.Phone)
		// SMS does not carry a subject
		input.Subject = nil
	case t.topicARN != "":
		input.TopicArn = aws.String(t.topicARN)
	default:
		return ErrNoAddress
	}

	if _, err := t.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}
	return nil
}

// SESSender is the subset of the SES v2 client used for email delivery
type SESSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport emails the validator
type SESTransport struct {
	client SESSender
	from   string
}

// NewSESTransport creates an SES transport sending from the given address
func NewSESTransport(client SESSender, from string) *SESTransport {
	return &SESTransport{client: client, from: from}
}

func (t *SESTransport) Send(ctx context.Context, n ValidatorNotification, to Recipient) error {
	if to.Contact.Email == "" {
		return ErrNoAddress
	}

	_, err := t.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(t.from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{to.Contact.Email},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(Subject(n)), Charset: aws.String("UTF-8")},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(Body(n, to)), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}
	return nil
}
