// Package dynamodb implements lease.Store on a DynamoDB table using
// conditional writes.
//
// The table has a string partition key "lease_key". Each item carries the
// owner token, an "expires_at" timestamp in unix milliseconds used for the
// claim condition, and a "ttl" attribute in unix seconds for DynamoDB's own
// expiry sweeper.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI defines the DynamoDB operations used by the lease store.
type DynamoDBAPI interface {
	// GetItem retrieves an item from DynamoDB.
	GetItem(
		ctx context.Context,
		params *dynamodb.GetItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.GetItemOutput, error)

	// PutItem stores an item in DynamoDB.
	PutItem(
		ctx context.Context,
		params *dynamodb.PutItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.PutItemOutput, error)

	// UpdateItem modifies an existing item in DynamoDB.
	UpdateItem(
		ctx context.Context,
		params *dynamodb.UpdateItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.UpdateItemOutput, error)

	// DeleteItem removes an item from DynamoDB.
	DeleteItem(
		ctx context.Context,
		params *dynamodb.DeleteItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.DeleteItemOutput, error)

	// Scan reads every item in the table, page by page.
	Scan(
		ctx context.Context,
		params *dynamodb.ScanInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.ScanOutput, error)
}

// Store is a DynamoDB-backed lease store.
type Store struct {
	// client is the DynamoDB API client.
	client DynamoDBAPI

	// now is the clock used for expiry checks.
	now func() time.Time

	// tableName is the name of the DynamoDB table.
	tableName string
}

// NewStore creates a new DynamoDB-backed lease store.
func NewStore(client DynamoDBAPI, tableName string) (*Store, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if tableName == "" {
		return nil, errors.New("table name is required")
	}

	return &Store{
		client:    client,
		now:       time.Now,
		tableName: tableName,
	}, nil
}

func millis(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

func seconds(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// Acquire claims key when it is absent or its previous claim has expired.
func (s *Store) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if key == "" || owner == "" {
		return false, errors.New("lease key and owner are required")
	}

	now := s.now()
	expires := now.Add(ttl)

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"lease_key":  &types.AttributeValueMemberS{Value: key},
			"owner":      &types.AttributeValueMemberS{Value: owner},
			"expires_at": millis(expires),
			"ttl":        seconds(expires),
		},
		ConditionExpression: aws.String("attribute_not_exists(lease_key) OR expires_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": millis(now),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("putting lease item to DynamoDB: %w", err)
	}

	return true, nil
}

// Renew pushes the expiry forward while owner still holds an unexpired claim.
func (s *Store) Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	expires := now.Add(ttl)

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"lease_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    aws.String("SET expires_at = :exp, #ttl = :ttl"),
		ConditionExpression: aws.String("#owner = :owner AND expires_at > :now"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
			"#ttl":   "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":exp":   millis(expires),
			":ttl":   seconds(expires),
			":owner": &types.AttributeValueMemberS{Value: owner},
			":now":   millis(now),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("updating lease item in DynamoDB: %w", err)
	}

	return true, nil
}

// Release deletes key if owner holds it.
func (s *Store) Release(ctx context.Context, key, owner string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"lease_key": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("deleting lease item from DynamoDB: %w", err)
	}

	return nil
}

// Holder returns the owner of an unexpired claim on key, or "".
func (s *Store) Holder(ctx context.Context, key string) (string, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"lease_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return "", fmt.Errorf("getting lease item from DynamoDB: %w", err)
	}

	if output.Item == nil {
		return "", nil
	}

	expAttr, ok := output.Item["expires_at"].(*types.AttributeValueMemberN)
	if !ok {
		return "", nil
	}
	expMs, err := strconv.ParseInt(expAttr.Value, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parsing expires_at: %w", err)
	}
	if expMs <= s.now().UnixMilli() {
		return "", nil
	}

	ownerAttr, ok := output.Item["owner"].(*types.AttributeValueMemberS)
	if !ok {
		return "", nil
	}

	return ownerAttr.Value, nil
}

// Count scans the table for unexpired claims whose key starts with prefix.
// The lease table only ever holds a handful of rows, one per running sync.
func (s *Store) Count(ctx context.Context, prefix string) (int, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		ConsistentRead:   aws.Bool(true),
		Select:           types.SelectCount,
		FilterExpression: aws.String("begins_with(lease_key, :prefix) AND expires_at > :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: prefix},
			":now":    millis(s.now()),
		},
	}

	total := 0
	for {
		output, err := s.client.Scan(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("scanning lease items in DynamoDB: %w", err)
		}
		total += int(output.Count)
		if len(output.LastEvaluatedKey) == 0 {
			return total, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}
