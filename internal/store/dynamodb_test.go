package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dietfurt/kolpingbot/internal/models"
)

// fakeDynamo is an in-memory table keyed by "pk" that understands the few
// expressions DynamoStore issues.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(m map[string]types.AttributeValue) string {
	if s, ok := m["pk"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	k := keyOf(in.Item)
	if aws.ToString(in.ConditionExpression) == "attribute_not_exists(pk)" {
		if _, exists := f.items[k]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[keyOf(in.Key)]
	if !ok {
		item = map[string]types.AttributeValue{"pk": in.Key["pk"]}
	}
	item["processed_at"] = in.ExpressionAttributeValues[":p"]
	f.items[keyOf(in.Key)] = item
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value
	var out []map[string]types.AttributeValue
	for k, item := range f.items {
		if strings.HasPrefix(k, prefix) {
			out = append(out, item)
		}
	}
	return &dynamodb.ScanOutput{Items: out}, nil
}

func TestDynamoStore(t *testing.T) {
	s, err := NewDynamoStore(newFakeDynamo(), "kolpingbot", 0)
	if err != nil {
		t.Fatalf("NewDynamoStore failed: %v", err)
	}
	exerciseStore(t, s)
}

func TestDynamoStoreIgnoresExpiredState(t *testing.T) {
	fake := newFakeDynamo()
	s, _ := NewDynamoStore(fake, "kolpingbot", time.Hour)
	ctx := context.Background()
	base := time.Now()
	s.now = func() time.Time { return base }

	if err := s.SaveDialogState(ctx, models.DialogState{UserID: "u1", Action: models.DialogActionRegistration, Step: models.StepFirstName}); err != nil {
		t.Fatalf("SaveDialogState failed: %v", err)
	}
	if _, ok := fake.items[dynamoDialogPrefix+"u1"]["expires_at"]; !ok {
		t.Error("expected expires_at attribute on dialog item")
	}

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	got, err := s.GetDialogState(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected expired state to be ignored, got %+v", got)
	}
}

func TestDynamoStoreErrors(t *testing.T) {
	fake := newFakeDynamo()
	fake.err = errors.New("throttled")
	s, _ := NewDynamoStore(fake, "kolpingbot", 0)

	if _, err := s.GetDialogState(context.Background(), "u1"); err == nil {
		t.Error("expected GetDialogState error")
	}
	if _, err := s.RecordInbound(context.Background(), "mid.1", "u1"); err == nil {
		t.Error("expected RecordInbound error")
	}
}

func TestNewDynamoStoreValidation(t *testing.T) {
	if _, err := NewDynamoStore(nil, "t", 0); err == nil {
		t.Error("expected error for nil api")
	}
	if _, err := NewDynamoStore(newFakeDynamo(), "  ", 0); err == nil {
		t.Error("expected error for empty table")
	}
}
