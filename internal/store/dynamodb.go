// Package store provides storage backends for KolpingBot.
//
// This file implements a DynamoDB-backed store. All records share one table keyed by a
// string partition key "pk"; the kind of record is encoded in the key prefix.
// Items carry an "expires_at" epoch attribute for the table's TTL setting.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dietfurt/kolpingbot/internal/models"
	"github.com/google/uuid"
)

const (
	dynamoDialogPrefix       = "DIALOG#"
	dynamoInboundPrefix      = "INBOUND#"
	dynamoRegistrationPrefix = "REG#"
)

// dynamodbAPI is the subset of the DynamoDB client used by DynamoStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type dialogItem struct {
	PK string `dynamodbav:"pk"`
	models.DialogState
	ExpiresAt int64 `dynamodbav:"expires_at"`
}

type registrationItem struct {
	PK           string    `dynamodbav:"pk"`
	UserID       string    `dynamodbav:"user_id"`
	Channel      string    `dynamodbav:"channel"`
	FirstName    string    `dynamodbav:"first_name"`
	LastName     string    `dynamodbav:"last_name"`
	Age          string    `dynamodbav:"age"`
	Swimmer      string    `dynamodbav:"swimmer"`
	RegisteredAt time.Time `dynamodbav:"registered_at"`
}

// DynamoStore keeps dialog state, dedup records and registrations in a single DynamoDB table.
type DynamoStore struct {
	api   dynamodbAPI
	table string
	ttl   time.Duration
	now   func() time.Time
}

// Compile-time check that DynamoStore implements Store.
var _ Store = (*DynamoStore)(nil)

// NewDynamoStore wraps a DynamoDB client for the given table. A zero ttl selects DefaultRedisTTL.
func NewDynamoStore(api dynamodbAPI, table string, ttl time.Duration) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("dynamodb store: api must not be nil")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("dynamodb store: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &DynamoStore{api: api, table: table, ttl: ttl, now: time.Now}, nil
}

// NewDynamoStoreFromEnv builds a DynamoDB client from the default AWS credential chain.
func NewDynamoStoreFromEnv(ctx context.Context, opts ...Option) (*DynamoStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	slog.Debug("DynamoStore: AWS config loaded", "region", awsCfg.Region, "table", cfg.DSN)
	return NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DSN, cfg.TTL)
}

// WithDynamoTable sets the DynamoDB table name.
func WithDynamoTable(table string) Option {
	return func(o *Opts) { o.DSN = table }
}

func pkKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: pk}}
}

func (s *DynamoStore) expiresAt() int64 {
	return s.now().Add(s.ttl).Unix()
}

func (s *DynamoStore) GetDialogState(ctx context.Context, userID string) (*models.DialogState, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            pkKey(dynamoDialogPrefix + userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		slog.Error("DynamoStore GetDialogState failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get dialog state for %s: %w", userID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var item dialogItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to decode dialog state for %s: %w", userID, err)
	}
	// Expired items linger until DynamoDB's TTL sweeper removes them.
	if item.ExpiresAt > 0 && item.ExpiresAt < s.now().Unix() {
		return nil, nil
	}
	return &item.DialogState, nil
}

func (s *DynamoStore) SaveDialogState(ctx context.Context, state models.DialogState) error {
	av, err := attributevalue.MarshalMap(dialogItem{
		PK:          dynamoDialogPrefix + state.UserID,
		DialogState: state,
		ExpiresAt:   s.expiresAt(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode dialog state for %s: %w", state.UserID, err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		slog.Error("DynamoStore SaveDialogState failed", "error", err, "userID", state.UserID)
		return fmt.Errorf("failed to save dialog state for %s: %w", state.UserID, err)
	}
	return nil
}

func (s *DynamoStore) DeleteDialogState(ctx context.Context, userID string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       pkKey(dynamoDialogPrefix + userID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete dialog state for %s: %w", userID, err)
	}
	return nil
}

// RecordInbound writes the dedup record with a conditional put; a failed condition means duplicate.
func (s *DynamoStore) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"pk":          &types.AttributeValueMemberS{Value: dynamoInboundPrefix + messageID},
			"user_id":     &types.AttributeValueMemberS{Value: userID},
			"received_at": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
			"expires_at":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", s.expiresAt())},
		},
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return true, nil
}

func (s *DynamoStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              pkKey(dynamoInboundPrefix + messageID),
		UpdateExpression: aws.String("SET processed_at = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// SaveRegistration stores a registration under a fresh key. Registrations do not expire.
func (s *DynamoStore) SaveRegistration(ctx context.Context, reg models.Registration) error {
	av, err := attributevalue.MarshalMap(registrationItem{
		PK:           dynamoRegistrationPrefix + uuid.NewString(),
		UserID:       reg.UserID,
		Channel:      string(reg.Channel),
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		Age:          reg.Age,
		Swimmer:      string(reg.Swimmer),
		RegisteredAt: reg.RegisteredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode registration: %w", err)
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.table), Item: av}); err != nil {
		slog.Error("DynamoStore SaveRegistration failed", "error", err, "userID", reg.UserID)
		return fmt.Errorf("failed to save registration: %w", err)
	}
	return nil
}

// ListRegistrations scans the table for registration items, ordered by registration time.
func (s *DynamoStore) ListRegistrations(ctx context.Context) ([]models.Registration, error) {
	var regs []models.Registration
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.table),
			FilterExpression: aws.String("begins_with(pk, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": &types.AttributeValueMemberS{Value: dynamoRegistrationPrefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan registrations: %w", err)
		}
		for _, raw := range out.Items {
			var item registrationItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to decode registration: %w", err)
			}
			regs = append(regs, models.Registration{
				UserID:       item.UserID,
				Channel:      models.Channel(item.Channel),
				FirstName:    item.FirstName,
				LastName:     item.LastName,
				Age:          item.Age,
				Swimmer:      models.Swimmer(item.Swimmer),
				RegisteredAt: item.RegisteredAt,
			})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	sort.SliceStable(regs, func(i, j int) bool { return regs[i].RegisteredAt.Before(regs[j].RegisteredAt) })
	return regs, nil
}

// Close is a no-op; the AWS client holds no resources that need releasing.
func (s *DynamoStore) Close() error {
	return nil
}
