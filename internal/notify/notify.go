// Package notify publishes the fire-and-forget scaling notifications of
// spec sections 4.B and 6.
package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Subject strings are preserved verbatim for downstream filter rules,
// per spec section 6.
const (
	SubjectScaleUp   = "Kinesis Autoscaling - Scale Up"
	SubjectScaleDown = "Kinesis Autoscaling - Scale Down"
)

// Notifier is the notify contract of spec 4.B: publish {subject, body}
// fire-and-forget. A failed notification never fails the scaling
// iteration that triggered it.
type Notifier interface {
	Notify(ctx context.Context, targetARN, subject, body string) error
}

// SNSClient is the subset of the AWS SDK v2 SNS client this adapter
// needs.
type SNSClient interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS adapts an AWS SNS client to the Notifier contract.
type SNS struct {
	Client SNSClient
}

// NewSNS builds an SNS-backed Notifier.
func NewSNS(client SNSClient) *SNS {
	return &SNS{Client: client}
}

func (s *SNS) Notify(ctx context.Context, targetARN, subject, body string) error {
	if targetARN == "" {
		return nil
	}
	_, err := s.Client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(targetARN),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", targetARN, err)
	}
	return nil
}
