package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/johnwmail/pastebin-lite/models"
)

// dynamoAPI is the subset of the DynamoDB client used by DynamoStore
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore implements PasteStore using DynamoDB. Locks are leases held
// in the item's lock_owner and lock_expires attributes and taken with
// conditional updates.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	lease     leaseOptions
}

// NewDynamoStore creates a new DynamoDB storage backend
func NewDynamoStore(ctx context.Context, tableName, region string, opts ...LeaseOption) (*DynamoStore, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return newDynamoStoreWithClient(dynamodb.NewFromConfig(cfg), tableName, opts...), nil
}

func newDynamoStoreWithClient(client dynamoAPI, tableName string, opts ...LeaseOption) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		lease:     newLeaseOptions(opts...),
	}
}

// Create saves a paste to DynamoDB, refusing to overwrite an existing id
func (d *DynamoStore) Create(ctx context.Context, paste *models.Paste) error {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                pasteToItem(paste),
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("failed to put paste: %w", err)
	}
	return nil
}

// WithTx runs fn under the lease protocol
func (d *DynamoStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return withLeaseTx(ctx, d, d.lease, fn)
}

// Ping checks that the table is reachable
func (d *DynamoStore) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	return err
}

// Close is a no-op for DynamoDB
func (d *DynamoStore) Close() error {
	return nil
}

func (d *DynamoStore) claim(ctx context.Context, id, owner string, now, until time.Time) (*models.Paste, error) {
	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 dynamoKey(id),
		UpdateExpression:    aws.String("SET lock_owner = :owner, lock_expires = :until"),
		ConditionExpression: aws.String("attribute_exists(id) AND (attribute_not_exists(lock_owner) OR lock_owner = :owner OR lock_expires <= :now)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
			":until": millisAttr(until),
			":now":   millisAttr(now),
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, ErrNotFound
			}
			return nil, errLeaseHeld
		}
		return nil, fmt.Errorf("failed to claim paste lease: %w", err)
	}

	return itemToPaste(out.Attributes)
}

func (d *DynamoStore) writeViews(ctx context.Context, paste *models.Paste, owner string) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 dynamoKey(paste.ID),
		UpdateExpression:    aws.String("SET current_views = :views"),
		ConditionExpression: aws.String("lock_owner = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":views": &types.AttributeValueMemberN{Value: strconv.FormatInt(paste.CurrentViews, 10)},
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrLockLost
		}
		return fmt.Errorf("failed to update paste views: %w", err)
	}
	return nil
}

func (d *DynamoStore) release(ctx context.Context, id, owner string) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 dynamoKey(id),
		UpdateExpression:    aws.String("REMOVE lock_owner, lock_expires"),
		ConditionExpression: aws.String("lock_owner = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil
	}
	return err
}

func dynamoKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func millisAttr(t time.Time) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

// pasteToItem converts a Paste model to a DynamoDB item. Times are stored
// as milliseconds since the epoch.
func pasteToItem(paste *models.Paste) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"id":            &types.AttributeValueMemberS{Value: paste.ID},
		"content":       &types.AttributeValueMemberS{Value: paste.Content},
		"current_views": &types.AttributeValueMemberN{Value: strconv.FormatInt(paste.CurrentViews, 10)},
		"created_at":    millisAttr(paste.CreatedAt),
	}
	if paste.MaxViews != nil {
		item["max_views"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(*paste.MaxViews, 10)}
	}
	if paste.ExpiresAt != nil {
		item["expires_at"] = millisAttr(*paste.ExpiresAt)
	}
	return item
}

// itemToPaste converts a DynamoDB item to a Paste model
func itemToPaste(item map[string]types.AttributeValue) (*models.Paste, error) {
	paste := &models.Paste{}

	id, ok := item["id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("dynamodb item has no id")
	}
	paste.ID = id.Value

	if content, ok := item["content"].(*types.AttributeValueMemberS); ok {
		paste.Content = content.Value
	}

	if views, ok := item["current_views"].(*types.AttributeValueMemberN); ok {
		n, err := strconv.ParseInt(views.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid current_views: %w", err)
		}
		paste.CurrentViews = n
	}

	if maxViews, ok := item["max_views"].(*types.AttributeValueMemberN); ok {
		n, err := strconv.ParseInt(maxViews.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid max_views: %w", err)
		}
		paste.MaxViews = &n
	}

	if createdAt, ok := item["created_at"].(*types.AttributeValueMemberN); ok {
		ms, err := strconv.ParseInt(createdAt.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid created_at: %w", err)
		}
		paste.CreatedAt = time.UnixMilli(ms).UTC()
	}

	if expiresAt, ok := item["expires_at"].(*types.AttributeValueMemberN); ok {
		ms, err := strconv.ParseInt(expiresAt.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid expires_at: %w", err)
		}
		expiry := time.UnixMilli(ms).UTC()
		paste.ExpiresAt = &expiry
	}

	return paste, nil
}
