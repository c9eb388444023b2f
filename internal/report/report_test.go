package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/deploywait/pkg/types"
)

func testResult() types.Result {
	return types.Result{
		RunID: "01HZX3J4K5M6N7P8Q9R0S1T2V3",
		Owner: "acme",
		Repo:  "shop",
		SHA:   "abc123def456",
		Deployments: map[string]types.SuccessRecord{
			"web": {ProjectName: "web", Environment: "prod", URL: "https://web.example.com"},
			"api": {ProjectName: "api", Environment: "prod-api"},
		},
		Cycles: 2,
	}
}

func testFailure() types.Failure {
	return types.Failure{
		RunID:   "01HZX3J4K5M6N7P8Q9R0S1T2V3",
		Owner:   "acme",
		Repo:    "shop",
		SHA:     "abc123def456",
		Outcome: types.OutcomeTimedOut,
		Message: "timing out after 10 seconds (10.002 elapsed); still waiting for: prod-api",
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type errSink struct{}

func (s *errSink) Send(_ context.Context, _ Event) error { return errors.New("sink error") }
func (s *errSink) Name() string                          { return "error-sink" }

type recordSink struct {
	events []Event
}

func (s *recordSink) Send(_ context.Context, ev Event) error {
	s.events = append(s.events, ev)
	return nil
}
func (s *recordSink) Name() string { return "record-sink" }

func TestDispatcher_MultiSink(t *testing.T) {
	s1, s2 := &recordSink{}, &recordSink{}
	d := NewDispatcher(quietLogger(), s1, s2)

	require.NoError(t, d.ReportSuccess(context.Background(), testResult()))
	require.Len(t, s1.events, 1)
	require.Len(t, s2.events, 1)
	assert.True(t, s1.events[0].Succeeded())
	assert.Equal(t, "abc123def456", s1.events[0].SHA())
}

func TestDispatcher_SinkError_ContinuesOthers(t *testing.T) {
	recording := &recordSink{}
	d := NewDispatcher(quietLogger(), &errSink{}, recording)

	err := d.ReportFailure(context.Background(), testFailure())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error-sink sink: sink error")
	assert.Len(t, recording.events, 1)
	assert.Equal(t, "DeploymentsFailed", recording.events[0].DetailType())
}

func TestStdoutSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStdoutSink(&buf)
	assert.Equal(t, "stdout", sink.Name())

	require.NoError(t, sink.Send(context.Background(), Event{Result: ptr(testResult())}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "abc123def456", got["sha"])
	deployments := got["deployments"].(map[string]any)
	assert.Equal(t, map[string]any{"projectName": "api", "environment": "prod-api"}, deployments["api"])
}

func TestActionsOutputSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")
	sink := NewActionsOutputSink(path)

	require.NoError(t, sink.Send(context.Background(), Event{Result: ptr(testResult())}))
	require.NoError(t, sink.Send(context.Background(), Event{Failure: ptr(testFailure())}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		`deployments={"api":{"projectName":"api","environment":"prod-api"},"web":{"projectName":"web","environment":"prod","url":"https://web.example.com"}}`+"\n",
		string(data))
}

func TestFormatOutput_Multiline(t *testing.T) {
	assert.Equal(t, "k=v\n", formatOutput("k", "v"))
	assert.Equal(t, "k<<EOF_\na\nEOF\nEOF_\n", formatOutput("k", "a\nEOF"))
}

func TestSummarySink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.md")
	sink := NewSummarySink(path)

	require.NoError(t, sink.Send(context.Background(), Event{Result: ptr(testResult())}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "### Deployments ready for `abc123d`\n\n"+
		"| Project | Environment | URL |\n| --- | --- | --- |\n"+
		"| api | prod-api | - |\n"+
		"| web | prod | https://web.example.com |\n\n", string(data))

	require.NoError(t, sink.Send(context.Background(), Event{Failure: ptr(testFailure())}))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "### Deployments not ready for `abc123d`")
	assert.Contains(t, string(data), "still waiting for: prod-api")
}

type mockEventBridge struct {
	inputs []*eventbridge.PutEventsInput
	out    *eventbridge.PutEventsOutput
	err    error
}

func (m *mockEventBridge) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	m.inputs = append(m.inputs, in)
	if m.out == nil {
		return &eventbridge.PutEventsOutput{}, m.err
	}
	return m.out, m.err
}

func TestEventBridgeSink(t *testing.T) {
	mock := &mockEventBridge{}
	sink := NewEventBridgeSink("ci-bus", mock)
	assert.Equal(t, "eventbridge", sink.Name())

	require.NoError(t, sink.Send(context.Background(), Event{Result: ptr(testResult())}))
	require.Len(t, mock.inputs, 1)
	entry := mock.inputs[0].Entries[0]
	assert.Equal(t, "ci-bus", aws.ToString(entry.EventBusName))
	assert.Equal(t, EventSource, aws.ToString(entry.Source))
	assert.Equal(t, "DeploymentsReady", aws.ToString(entry.DetailType))

	var detail types.Result
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail))
	assert.Equal(t, "https://web.example.com", detail.Deployments["web"].URL)
}

func TestEventBridgeSink_FailedEntry(t *testing.T) {
	mock := &mockEventBridge{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries:          []ebtypes.PutEventsResultEntry{{ErrorMessage: aws.String("bus not found")}},
	}}
	err := NewEventBridgeSink("ci-bus", mock).Send(context.Background(), Event{Failure: ptr(testFailure())})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus not found")
}

type mockSQS struct {
	inputs []*sqs.SendMessageInput
}

func (m *mockSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.inputs = append(m.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSSink(t *testing.T) {
	mock := &mockSQS{}
	sink := NewSQSSink("https://sqs.us-east-1.amazonaws.com/123/deploys", mock)

	require.NoError(t, sink.Send(context.Background(), Event{Failure: ptr(testFailure())}))
	require.Len(t, mock.inputs, 1)
	in := mock.inputs[0]
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123/deploys", aws.ToString(in.QueueUrl))
	assert.Equal(t, "DeploymentsFailed", aws.ToString(in.MessageAttributes["eventType"].StringValue))

	var body types.Failure
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &body))
	assert.Equal(t, types.OutcomeTimedOut, body.Outcome)
}

type mockSFN struct {
	success []*sfn.SendTaskSuccessInput
	failure []*sfn.SendTaskFailureInput
}

func (m *mockSFN) SendTaskSuccess(_ context.Context, in *sfn.SendTaskSuccessInput, _ ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error) {
	m.success = append(m.success, in)
	return &sfn.SendTaskSuccessOutput{}, nil
}

func (m *mockSFN) SendTaskFailure(_ context.Context, in *sfn.SendTaskFailureInput, _ ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error) {
	m.failure = append(m.failure, in)
	return &sfn.SendTaskFailureOutput{}, nil
}

func TestSFNSink(t *testing.T) {
	mock := &mockSFN{}
	sink := NewSFNSink("token-1", mock)

	require.NoError(t, sink.Send(context.Background(), Event{Result: ptr(testResult())}))
	require.Len(t, mock.success, 1)
	assert.Equal(t, "token-1", aws.ToString(mock.success[0].TaskToken))
	assert.Contains(t, aws.ToString(mock.success[0].Output), `"deployments"`)

	require.NoError(t, sink.Send(context.Background(), Event{Failure: ptr(testFailure())}))
	require.Len(t, mock.failure, 1)
	assert.Equal(t, "DeploymentsTimedOut", aws.ToString(mock.failure[0].Error))

	f := testFailure()
	f.Outcome = types.OutcomeFailed
	require.NoError(t, sink.Send(context.Background(), Event{Failure: &f}))
	assert.Equal(t, "DeploymentsFailed", aws.ToString(mock.failure[1].Error))
}

func TestWebhookSink_Send_Success(t *testing.T) {
	var received []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "DeploymentsReady", r.Header.Get("X-Deploywait-Event"))
		assert.Equal(t, "01HZX3J4K5M6N7P8Q9R0S1T2V3", r.Header.Get("X-Deploywait-Run"))
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	require.NoError(t, NewWebhookSink(ts.URL).Send(context.Background(), Event{Result: ptr(testResult())}))

	var got types.Result
	require.NoError(t, json.Unmarshal(received, &got))
	assert.Equal(t, "acme", got.Owner)
	assert.Len(t, got.Deployments, 2)
}

func TestWebhookSink_Send_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream unavailable\n"))
	}))
	defer ts.Close()

	err := NewWebhookSink(ts.URL).Send(context.Background(), Event{Failure: ptr(testFailure())})
	require.Error(t, err)
	assert.Equal(t, "webhook returned status 500: upstream unavailable", err.Error())
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := types.OutputConfig{
		OutputFile:     filepath.Join(dir, "output"),
		SummaryFile:    filepath.Join(dir, "summary"),
		EventBridgeBus: "ci-bus",
		SQSQueueURL:    "https://sqs.us-east-1.amazonaws.com/123/deploys",
		SFNTaskToken:   "token-1",
		WebhookURL:     "https://hooks.example.com/deploys",
	}

	d, err := FromConfig(context.Background(), cfg, quietLogger(),
		WithEventBridgeClient(&mockEventBridge{}),
		WithSQSClient(&mockSQS{}),
		WithSFNClient(&mockSFN{}),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"stdout", "actions-output", "summary", "eventbridge", "sqs", "sfn", "webhook"}, d.Sinks())

	rec := &recordSink{}
	d, err = FromConfig(context.Background(), types.OutputConfig{}, quietLogger(), WithSink(rec))
	require.NoError(t, err)
	assert.Equal(t, []string{"record-sink"}, d.Sinks())
}

func ptr[T any](v T) *T { return &v }
