package kinesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"go.uber.org/zap"
)

const eventInsert = "INSERT"

var errMissingImage = errors.New("stream record has no new image")

// DecodeRecord unwraps a Kinesis record carrying a DynamoDB stream change of
// the events table. Only inserts carry new events; anything else yields nil.
func DecodeRecord(record events.KinesisEventRecord) (*store.Event, error) {
	var change events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &change); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream change: %w", err)
	}
	return DecodeStreamRecord(change)
}

// DecodeStreamRecord reads an event row straight from a DynamoDB stream.
func DecodeStreamRecord(record events.DynamoDBEventRecord) (*store.Event, error) {
	if record.EventName != eventInsert {
		return nil, nil
	}
	return eventFromImage(record.Change.NewImage)
}

// eventFromImage mirrors the attribute names written by the DynamoDB event
// store.
func eventFromImage(image map[string]events.DynamoDBAttributeValue) (*store.Event, error) {
	if image == nil {
		return nil, errMissingImage
	}

	str := func(name string) string {
		if v, ok := image[name]; ok && v.DataType() == events.DataTypeString {
			return v.String()
		}
		return ""
	}

	event := &store.Event{
		ID:            str("id"),
		AggregateID:   str("aggregate_id"),
		AggregateType: str("aggregate_type"),
		EventType:     str("event_type"),
		Data:          json.RawMessage(str("data")),
	}
	if event.ID == "" || event.AggregateID == "" || event.EventType == "" {
		return nil, fmt.Errorf("event row is incomplete: id=%q aggregate_id=%q event_type=%q",
			event.ID, event.AggregateID, event.EventType)
	}

	if raw := str("created_at"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		event.Timestamp = ts
	}
	if v, ok := image["version"]; ok {
		version, err := v.Integer()
		if err != nil {
			return nil, fmt.Errorf("failed to parse version: %w", err)
		}
		event.Version = int(version)
	}
	return event, nil
}

// Applier consumes one decoded event; the projector and the notifier both
// satisfy it through their Apply methods.
type Applier func(ctx context.Context, event store.Event) error

// Dispatch decodes every record of a batch and hands the events to apply in
// order. Records that fail are reported as batch item failures so Lambda
// retries only those; a record that cannot be decoded is logged and dropped
// because retrying it cannot succeed.
func Dispatch(ctx context.Context, batch events.KinesisEvent, apply Applier, logger *zap.Logger) events.KinesisEventResponse {
	var resp events.KinesisEventResponse
	for _, record := range batch.Records {
		event, err := DecodeRecord(record)
		if err != nil {
			logger.Error("dropping undecodable record", zap.String("record_id", record.EventID), zap.Error(err))
			continue
		}
		if event == nil {
			continue
		}
		if err := apply(ctx, *event); err != nil {
			logger.Warn("record failed",
				zap.String("record_id", record.EventID),
				zap.String("event_type", event.EventType),
				zap.String("aggregate_id", event.AggregateID),
				zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.KinesisBatchItemFailure{
				ItemIdentifier: record.Kinesis.SequenceNumber,
			})
		}
	}
	return resp
}
