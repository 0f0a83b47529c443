// Package dynamo stores chat messages and reads enrollments in DynamoDB.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"uppy/chat/internal/store"
	"uppy/chat/internal/types"
)

var tracer = otel.Tracer("uppy/chat/internal/store/dynamo")

// API is the subset of the DynamoDB client the store uses.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type Tables struct {
	Messages      string
	MessagesIndex string
	Enrollments   string
}

// Store implements store.MessageStore and store.EnrollmentSource.
type Store struct {
	api    API
	tables Tables
	logger *zap.Logger
}

var (
	_ store.MessageStore     = (*Store)(nil)
	_ store.EnrollmentSource = (*Store)(nil)
)

// NewClient builds a DynamoDB client from the default AWS credential chain
// (environment, shared config, instance role).
func NewClient(ctx context.Context, region string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func New(api API, tables Tables, logger *zap.Logger) *Store {
	return &Store{api: api, tables: tables, logger: logger.With(zap.String("component", "dynamo_store"))}
}

func (s *Store) Put(ctx context.Context, msg types.Message) error {
	ctx, span := tracer.Start(ctx, "dynamo.Put")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", msg.ConversationID))

	item, err := attributevalue.MarshalMap(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tables.Messages),
		Item:      item,
	})
	if err != nil {
		span.RecordError(err)
		return classify("put message", err)
	}
	return nil
}

// History queries the conversation index newest first. When the index is
// missing it falls back to a filtered scan.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	ctx, span := tracer.Start(ctx, "dynamo.History")
	defer span.End()
	span.SetAttributes(attribute.String("conversation_id", conversationID), attribute.Int("limit", limit))

	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tables.Messages),
		IndexName:              aws.String(s.tables.MessagesIndex),
		KeyConditionExpression: aws.String("conversation_id = :conversationId"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":conversationId": &ddbtypes.AttributeValueMemberS{Value: conversationID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		if !isMissingIndex(err) {
			span.RecordError(err)
			return nil, classify("query history", err)
		}
		s.logger.Warn("conversation index not found, falling back to scan",
			zap.String("index", s.tables.MessagesIndex), zap.Error(err))
		return s.scanHistory(ctx, conversationID, limit)
	}

	var msgs []types.Message
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return msgs, nil
}

func (s *Store) scanHistory(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	p := dynamodb.NewScanPaginator(s.api, &dynamodb.ScanInput{
		TableName:        aws.String(s.tables.Messages),
		FilterExpression: aws.String("conversation_id = :conversationId"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":conversationId": &ddbtypes.AttributeValueMemberS{Value: conversationID},
		},
	})
	var msgs []types.Message
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("scan history", err)
		}
		var batch []types.Message
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
		msgs = append(msgs, batch...)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Time().After(msgs[j].Time()) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// Enrollment scans the enrollment table for enrollment_id. The table's key
// is (id_campaign, id_influencer), so a filtered scan is the only lookup.
func (s *Store) Enrollment(ctx context.Context, enrollmentID string) (types.Enrollment, error) {
	ctx, span := tracer.Start(ctx, "dynamo.Enrollment")
	defer span.End()

	p := dynamodb.NewScanPaginator(s.api, &dynamodb.ScanInput{
		TableName:        aws.String(s.tables.Enrollments),
		FilterExpression: aws.String("enrollment_id = :enrollmentId"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":enrollmentId": &ddbtypes.AttributeValueMemberS{Value: enrollmentID},
		},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			return types.Enrollment{}, classify("scan enrollments", err)
		}
		if len(page.Items) == 0 {
			continue
		}
		var en types.Enrollment
		if err := attributevalue.UnmarshalMap(page.Items[0], &en); err != nil {
			return types.Enrollment{}, fmt.Errorf("unmarshal enrollment: %w", err)
		}
		return en, nil
	}
	return types.Enrollment{}, store.ErrNotFound
}

func classify(op string, err error) error {
	if isCredentialError(err) {
		return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isCredentialError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "UnrecognizedClientException", "InvalidSignatureException",
			"ExpiredTokenException", "MissingAuthenticationTokenException":
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "security token") || strings.Contains(msg, "failed to retrieve credentials")
}

func isMissingIndex(err error) bool {
	var rnf *ddbtypes.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException" {
		return strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "index")
	}
	return false
}
