package report

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/dwsmith1983/deploywait/pkg/types"
)

// EventSource is the source field of published EventBridge events.
const EventSource = "deploywait"

// Error names passed to SendTaskFailure.
const (
	TaskErrorTimedOut = "DeploymentsTimedOut"
	TaskErrorFailed   = "DeploymentsFailed"
)

// EventBridgeAPI is the subset of the EventBridge client used by EventBridgeSink.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// SQSAPI is the subset of the SQS client used by SQSSink.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SFNAPI is the subset of the Step Functions client used by SFNSink.
type SFNAPI interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
	SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error)
}

// EventBridgeSink publishes DeploymentsReady and DeploymentsFailed events.
type EventBridgeSink struct {
	client EventBridgeAPI
	bus    string
}

// NewEventBridgeSink creates a sink publishing to bus.
func NewEventBridgeSink(bus string, client EventBridgeAPI) *EventBridgeSink {
	return &EventBridgeSink{client: client, bus: bus}
}

// Name returns the sink identifier.
func (s *EventBridgeSink) Name() string { return "eventbridge" }

// Send publishes one event whose detail is the outcome payload.
func (s *EventBridgeSink) Send(ctx context.Context, ev Event) error {
	detail, err := ev.Payload()
	if err != nil {
		return err
	}

	out, err := s.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			EventBusName: aws.String(s.bus),
			Source:       aws.String(EventSource),
			DetailType:   aws.String(ev.DetailType()),
			Detail:       aws.String(string(detail)),
		}},
	})
	if err != nil {
		return fmt.Errorf("publishing %s event: %w", ev.DetailType(), err)
	}
	if out.FailedEntryCount > 0 {
		msg := "unknown error"
		if len(out.Entries) > 0 && out.Entries[0].ErrorMessage != nil {
			msg = aws.ToString(out.Entries[0].ErrorMessage)
		}
		return fmt.Errorf("publishing %s event: %s", ev.DetailType(), msg)
	}
	return nil
}

// SQSSink sends the outcome payload as a queue message.
type SQSSink struct {
	client   SQSAPI
	queueURL string
}

// NewSQSSink creates a sink sending to queueURL.
func NewSQSSink(queueURL string, client SQSAPI) *SQSSink {
	return &SQSSink{client: client, queueURL: queueURL}
}

// Name returns the sink identifier.
func (s *SQSSink) Name() string { return "sqs" }

// Send sends one message. The event type travels as a message attribute.
func (s *SQSSink) Send(ctx context.Context, ev Event) error {
	body, err := ev.Payload()
	if err != nil {
		return err
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String(ev.DetailType())},
		},
	})
	if err != nil {
		return fmt.Errorf("sending SQS message: %w", err)
	}
	return nil
}

// SFNSink completes a Step Functions task waiting on a callback token.
type SFNSink struct {
	client    SFNAPI
	taskToken string
}

// NewSFNSink creates a sink completing taskToken.
func NewSFNSink(taskToken string, client SFNAPI) *SFNSink {
	return &SFNSink{client: client, taskToken: taskToken}
}

// Name returns the sink identifier.
func (s *SFNSink) Name() string { return "sfn" }

// Send reports task success with the result as output, or task failure with
// an error name derived from the outcome.
func (s *SFNSink) Send(ctx context.Context, ev Event) error {
	if ev.Succeeded() {
		output, err := ev.Payload()
		if err != nil {
			return err
		}
		if _, err := s.client.SendTaskSuccess(ctx, &sfn.SendTaskSuccessInput{
			TaskToken: aws.String(s.taskToken),
			Output:    aws.String(string(output)),
		}); err != nil {
			return fmt.Errorf("sfn SendTaskSuccess failed: %w", err)
		}
		return nil
	}

	errName, cause := TaskErrorFailed, ""
	if ev.Failure != nil {
		cause = ev.Failure.Message
		if ev.Failure.Outcome == types.OutcomeTimedOut {
			errName = TaskErrorTimedOut
		}
	}
	if _, err := s.client.SendTaskFailure(ctx, &sfn.SendTaskFailureInput{
		TaskToken: aws.String(s.taskToken),
		Error:     aws.String(errName),
		Cause:     aws.String(cause),
	}); err != nil {
		return fmt.Errorf("sfn SendTaskFailure failed: %w", err)
	}
	return nil
}
