package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/otp-auth-service/internal/kv"
)

// KV implements kv.Store on a single DynamoDB table: hash key "k", JSON
// document "v", optional "expires_at" driving the table TTL. DynamoDB TTL
// reaping lags, so reads filter expired-but-unreaped items themselves.
type KV struct {
	client    *dynamodb.Client
	tableName string
}

func NewKV(client *dynamodb.Client, tableName string) *KV {
	return &KV{client: client, tableName: tableName}
}

type kvItem struct {
	Key       string `dynamodbav:"k"`
	Value     string `dynamodbav:"v"`
	ExpiresAt int64  `dynamodbav:"expires_at,omitempty"` // Unix seconds; absent = no expiry
}

func (s *KV) Get(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       hashKey(key),
	})
	if err != nil {
		return "", err
	}
	if out.Item == nil {
		return "", kv.ErrNotFound
	}
	var item kvItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", err
	}
	if item.ExpiresAt != 0 && item.ExpiresAt <= time.Now().Unix() {
		return "", kv.ErrNotFound
	}
	return item.Value, nil
}

func (s *KV) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	item, err := attributevalue.MarshalMap(newItem(key, value, ttl))
	if err != nil {
		return fmt.Errorf("marshal kv item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	return err
}

func (s *KV) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) error {
	item, err := attributevalue.MarshalMap(newItem(key, value, ttl))
	if err != nil {
		return fmt.Errorf("marshal kv item: %w", err)
	}
	// An expired-but-unreaped item still counts as absent.
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#k) OR (attribute_exists(expires_at) AND expires_at <= :now)"),
		ExpressionAttributeNames: map[string]string{"#k": "k"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().Unix())},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return kv.ErrKeyExists
		}
		return err
	}
	return nil
}

func (s *KV) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       hashKey(key),
	})
	return err
}

// ListPrefix scans for keys with the given prefix. The table is keyed by
// hash only, so this is a filtered scan; callers use it for narrow admin
// and cleanup paths, never on the login hot path.
func (s *KV) ListPrefix(ctx context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	var startKey map[string]types.AttributeValue
	now := time.Now().Unix()
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                aws.String(s.tableName),
			FilterExpression:         aws.String("begins_with(#k, :p)"),
			ExpressionAttributeNames: map[string]string{"#k": "k"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: prefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		var items []kvItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.ExpiresAt != 0 && item.ExpiresAt <= now {
				continue
			}
			keys = append(keys, item.Key)
			if limit > 0 && len(keys) >= limit {
				return keys, nil
			}
		}
		if out.LastEvaluatedKey == nil {
			return keys, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func newItem(key, value string, ttl time.Duration) kvItem {
	item := kvItem{Key: key, Value: value}
	if ttl > 0 {
		item.ExpiresAt = time.Now().Add(ttl).Unix()
	}
	return item
}

func hashKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"k": &types.AttributeValueMemberS{Value: key},
	}
}
