package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// DynamoLedger keeps a denormalized "available" counter on each stock item
// so a reservation is a single conditional update (available >= :q) written
// in the same transaction as the reservation item.
type DynamoLedger struct {
	client            *dynamodb.Client
	stockTable        string
	reservationsTable string
}

type dynamoLevel struct {
	VariantID string `dynamodbav:"variant_id"`
	Stock     int    `dynamodbav:"stock"`
	Reserved  int    `dynamodbav:"reserved"`
	Available int    `dynamodbav:"available"`
}

type dynamoReservation struct {
	ID        string `dynamodbav:"reservation_id"`
	VariantID string `dynamodbav:"variant_id"`
	Holder    string `dynamodbav:"holder"`
	Quantity  int    `dynamodbav:"quantity"`
	State     string `dynamodbav:"state"`
	CreatedAt string `dynamodbav:"created_at"`
	ExpiresAt int64  `dynamodbav:"expires_at"` // unix seconds, comparable in filters
}

func NewDynamoLedger(client *dynamodb.Client, stockTable, reservationsTable string) *DynamoLedger {
	return &DynamoLedger{
		client:            client,
		stockTable:        stockTable,
		reservationsTable: reservationsTable,
	}
}

func variantKey(variantID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"variant_id": &types.AttributeValueMemberS{Value: variantID},
	}
}

func reservationKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"reservation_id": &types.AttributeValueMemberS{Value: id},
	}
}

func number(n int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func (l *DynamoLedger) Reserve(ctx context.Context, variantID string, qty int, holder string, ttl time.Duration) (*Reservation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	now := time.Now().UTC()
	r := &Reservation{
		ID:        uuid.New().String(),
		VariantID: variantID,
		Holder:    holder,
		Quantity:  qty,
		State:     StateHeld,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	item, err := attributevalue.MarshalMap(toDynamoReservation(r))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reservation: %w", err)
	}

	_, err = l.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:           aws.String(l.stockTable),
				Key:                 variantKey(variantID),
				UpdateExpression:    aws.String("SET available = available - :q, reserved = reserved + :q"),
				ConditionExpression: aws.String("attribute_exists(variant_id) AND available >= :q"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":q": number(qty),
				},
			}},
			{Put: &types.Put{
				TableName:           aws.String(l.reservationsTable),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(reservation_id)"),
			}},
		},
	})
	if err != nil {
		if conditionFailed(err, 0) {
			lvl, lerr := l.Level(ctx, variantID)
			if lerr != nil {
				return nil, lerr
			}
			return nil, fmt.Errorf("%w: variant %s has %d available, %d requested", ErrInsufficientStock, variantID, lvl.AvailableStock(), qty)
		}
		return nil, fmt.Errorf("failed to reserve stock: %w", err)
	}
	return r, nil
}

func (l *DynamoLedger) Commit(ctx context.Context, reservationID string) error {
	return l.transition(ctx, reservationID, StateCommitted)
}

func (l *DynamoLedger) Release(ctx context.Context, reservationID string) error {
	return l.transition(ctx, reservationID, StateReleased)
}

func (l *DynamoLedger) transition(ctx context.Context, reservationID string, target State) error {
	r, err := l.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.State != StateHeld {
		return settle(r.State, target)
	}

	counters := "SET available = available + :q, reserved = reserved - :q"
	if target == StateCommitted {
		counters = "SET stock = stock - :q, reserved = reserved - :q"
	}

	_, err = l.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:        aws.String(l.stockTable),
				Key:              variantKey(r.VariantID),
				UpdateExpression: aws.String(counters),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":q": number(r.Quantity),
				},
			}},
			{Update: &types.Update{
				TableName:                aws.String(l.reservationsTable),
				Key:                      reservationKey(reservationID),
				UpdateExpression:         aws.String("SET #s = :target"),
				ConditionExpression:      aws.String("#s = :held"),
				ExpressionAttributeNames: map[string]string{"#s": "state"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":target": &types.AttributeValueMemberS{Value: string(target)},
					":held":   &types.AttributeValueMemberS{Value: string(StateHeld)},
				},
			}},
		},
	})
	if err != nil {
		if conditionFailed(err, 1) {
			// Another writer settled it first; report against what it chose.
			current, gerr := l.GetReservation(ctx, reservationID)
			if gerr != nil {
				return gerr
			}
			return settle(current.State, target)
		}
		return fmt.Errorf("failed to %s reservation: %w", target, err)
	}
	return nil
}

// conditionFailed reports whether a transaction was cancelled because the
// condition of the item at index failed.
func conditionFailed(err error, index int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || index >= len(tce.CancellationReasons) {
		return false
	}
	return aws.ToString(tce.CancellationReasons[index].Code) == "ConditionalCheckFailed"
}

func (l *DynamoLedger) GetReservation(ctx context.Context, reservationID string) (*Reservation, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.reservationsTable),
		Key:            reservationKey(reservationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s", ErrReservationNotFound, reservationID)
	}
	var dr dynamoReservation
	if err := attributevalue.UnmarshalMap(out.Item, &dr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reservation: %w", err)
	}
	return dr.toReservation(), nil
}

func (l *DynamoLedger) Level(ctx context.Context, variantID string) (Level, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.stockTable),
		Key:            variantKey(variantID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Level{}, fmt.Errorf("failed to get stock: %w", err)
	}
	if out.Item == nil {
		return Level{}, fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
	}
	var dl dynamoLevel
	if err := attributevalue.UnmarshalMap(out.Item, &dl); err != nil {
		return Level{}, fmt.Errorf("failed to unmarshal stock: %w", err)
	}
	return Level{VariantID: dl.VariantID, TotalStock: dl.Stock, ReservedStock: dl.Reserved}, nil
}

func (l *DynamoLedger) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	paginator := dynamodb.NewScanPaginator(l.client, &dynamodb.ScanInput{
		TableName:                aws.String(l.reservationsTable),
		FilterExpression:         aws.String("#s = :held AND expires_at < :now"),
		ProjectionExpression:     aws.String("reservation_id"),
		ExpressionAttributeNames: map[string]string{"#s": "state"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":held": &types.AttributeValueMemberS{Value: string(StateHeld)},
			":now":  &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})

	released := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return released, fmt.Errorf("failed to scan reservations: %w", err)
		}
		for _, item := range page.Items {
			var dr dynamoReservation
			if err := attributevalue.UnmarshalMap(item, &dr); err != nil {
				return released, fmt.Errorf("failed to unmarshal reservation: %w", err)
			}
			err := l.Release(ctx, dr.ID)
			switch {
			case err == nil:
				released++
			case errors.Is(err, ErrReservationCommitted):
			default:
				return released, err
			}
		}
	}
	return released, nil
}

// SetStock creates or overwrites the stock item. available is recomputed from
// whatever is currently reserved.
func (l *DynamoLedger) SetStock(ctx context.Context, variantID string, stock int) error {
	if stock < 0 {
		return ErrInvalidQuantity
	}
	_, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(l.stockTable),
		Key:       variantKey(variantID),
		UpdateExpression: aws.String(
			"SET stock = :s, reserved = if_not_exists(reserved, :zero), available = :s - if_not_exists(reserved, :zero)"),
		ConditionExpression: aws.String("attribute_not_exists(reserved) OR reserved <= :s"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":    number(stock),
			":zero": number(0),
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: reserved units of %s exceed %d", ErrInsufficientStock, variantID, stock)
		}
		return fmt.Errorf("failed to set stock: %w", err)
	}
	return nil
}

func (l *DynamoLedger) Restock(ctx context.Context, variantID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	_, err := l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(l.stockTable),
		Key:                 variantKey(variantID),
		UpdateExpression:    aws.String("ADD stock :q, available :q"),
		ConditionExpression: aws.String("attribute_exists(variant_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q": number(qty),
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s", ErrVariantNotFound, variantID)
		}
		return fmt.Errorf("failed to restock: %w", err)
	}
	return nil
}

func toDynamoReservation(r *Reservation) dynamoReservation {
	return dynamoReservation{
		ID:        r.ID,
		VariantID: r.VariantID,
		Holder:    r.Holder,
		Quantity:  r.Quantity,
		State:     string(r.State),
		CreatedAt: r.CreatedAt.Format(time.RFC3339Nano),
		ExpiresAt: r.ExpiresAt.Unix(),
	}
}

func (dr dynamoReservation) toReservation() *Reservation {
	createdAt, _ := time.Parse(time.RFC3339Nano, dr.CreatedAt)
	return &Reservation{
		ID:        dr.ID,
		VariantID: dr.VariantID,
		Holder:    dr.Holder,
		Quantity:  dr.Quantity,
		State:     State(dr.State),
		CreatedAt: createdAt,
		ExpiresAt: time.Unix(dr.ExpiresAt, 0).UTC(),
	}
}
