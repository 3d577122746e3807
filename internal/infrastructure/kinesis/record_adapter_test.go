package kinesis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/ec-checkout/internal/infrastructure/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func orderImage(id, orderNumber string, version int) map[string]events.DynamoDBAttributeValue {
	return map[string]events.DynamoDBAttributeValue{
		"id":             events.NewStringAttribute(id),
		"aggregate_id":   events.NewStringAttribute(orderNumber),
		"aggregate_type": events.NewStringAttribute("Order"),
		"event_type":     events.NewStringAttribute("OrderPaid"),
		"data":           events.NewStringAttribute(`{"order_number":"` + orderNumber + `","payment_id":"pay-1"}`),
		"created_at":     events.NewStringAttribute("2024-01-15T10:30:00.123456789Z"),
		"version":        events.NewNumberAttribute(strconv.Itoa(version)),
	}
}

func kinesisRecord(t *testing.T, seq string, change events.DynamoDBEventRecord) events.KinesisEventRecord {
	t.Helper()
	data, err := json.Marshal(change)
	require.NoError(t, err)
	return events.KinesisEventRecord{
		EventID: "shard-0:" + seq,
		Kinesis: events.KinesisRecord{Data: data, SequenceNumber: seq},
	}
}

func insert(image map[string]events.DynamoDBAttributeValue) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{EventName: "INSERT", Change: events.DynamoDBStreamRecord{NewImage: image}}
}

func TestEventFromImage(t *testing.T) {
	tests := []struct {
		name    string
		image   map[string]events.DynamoDBAttributeValue
		wantErr bool
	}{
		{name: "complete row", image: orderImage("event-123", "ORD-1", 2)},
		{name: "nil image", image: nil, wantErr: true},
		{
			name:    "missing required fields",
			image:   map[string]events.DynamoDBAttributeValue{"id": events.NewStringAttribute("event-123")},
			wantErr: true,
		},
		{
			name: "bad timestamp",
			image: func() map[string]events.DynamoDBAttributeValue {
				img := orderImage("event-123", "ORD-1", 2)
				img["created_at"] = events.NewStringAttribute("yesterday")
				return img
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := eventFromImage(tt.image)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "event-123", event.ID)
			assert.Equal(t, "ORD-1", event.AggregateID)
			assert.Equal(t, "Order", event.AggregateType)
			assert.Equal(t, "OrderPaid", event.EventType)
			assert.Equal(t, 2, event.Version)
			assert.JSONEq(t, `{"order_number":"ORD-1","payment_id":"pay-1"}`, string(event.Data))
			assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC), event.Timestamp)
		})
	}
}

func TestDecodeStreamRecord_OnlyInserts(t *testing.T) {
	for _, name := range []string{"MODIFY", "REMOVE"} {
		event, err := DecodeStreamRecord(events.DynamoDBEventRecord{EventName: name})
		require.NoError(t, err)
		assert.Nil(t, event, name)
	}
}

func TestDecodeRecord(t *testing.T) {
	event, err := DecodeRecord(kinesisRecord(t, "1", insert(orderImage("event-1", "ORD-1", 1))))

	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "event-1", event.ID)
}

func TestDispatch_ReportsOnlyFailedRecords(t *testing.T) {
	batch := events.KinesisEvent{Records: []events.KinesisEventRecord{
		kinesisRecord(t, "1", insert(orderImage("event-1", "ORD-1", 1))),
		kinesisRecord(t, "2", events.DynamoDBEventRecord{EventName: "MODIFY"}),
		{EventID: "shard-0:3", Kinesis: events.KinesisRecord{Data: []byte("invalid json"), SequenceNumber: "3"}},
		kinesisRecord(t, "4", insert(orderImage("event-2", "ORD-2", 1))),
	}}

	var applied []string
	apply := func(ctx context.Context, e store.Event) error {
		applied = append(applied, e.AggregateID)
		if e.AggregateID == "ORD-2" {
			return errors.New("read store unavailable")
		}
		return nil
	}

	resp := Dispatch(context.Background(), batch, apply, zap.NewNop())

	assert.Equal(t, []string{"ORD-1", "ORD-2"}, applied)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "4", resp.BatchItemFailures[0].ItemIdentifier)
}
