package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"advisor-proxy/internal/domain"
)

const (
	skPrefixAnalysis = "ANALYSIS#"
	skMeta           = "META#"
	ttlDuration      = 180 * 24 * time.Hour // 180-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores profile analyses in a single DynamoDB table keyed by user.
type Client struct {
	api       dynamodbAPI
	tableName string

	now   func() time.Time
	newID func() string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{
		api:       api,
		tableName: tableName,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// userPK returns the DynamoDB partition key for a user.
func userPK(userID string) string {
	return "USER#" + userID
}

// analysisSK sorts chronologically; the random suffix keeps concurrent saves apart.
func analysisSK(ts time.Time, id string) string {
	return skPrefixAnalysis + ts.UTC().Format(time.RFC3339Nano) + "#" + id
}

// SaveAnalysis writes the analysis item and bumps the user's META# record in
// one transaction.
func (c *Client) SaveAnalysis(ctx context.Context, userID, model string, analysis domain.ProfileAnalysis) (domain.StoredAnalysis, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.StoredAnalysis{}, errors.New("repository: SaveAnalysis: user ID is required")
	}
	payload, err := json.Marshal(analysis)
	if err != nil {
		return domain.StoredAnalysis{}, fmt.Errorf("repository: SaveAnalysis marshal: %w", err)
	}

	now := c.now().UTC()
	sk := analysisSK(now, c.newID())
	ttl := strconv.FormatInt(now.Add(ttlDuration).Unix(), 10)
	stored := domain.StoredAnalysis{
		UserID:    userID,
		Model:     model,
		CreatedAt: now.Format(time.RFC3339),
		Analysis:  analysis,
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item: map[string]types.AttributeValue{
						"PK":        &types.AttributeValueMemberS{Value: userPK(userID)},
						"SK":        &types.AttributeValueMemberS{Value: sk},
						"userId":    &types.AttributeValueMemberS{Value: userID},
						"model":     &types.AttributeValueMemberS{Value: model},
						"createdAt": &types.AttributeValueMemberS{Value: stored.CreatedAt},
						"analysis":  &types.AttributeValueMemberS{Value: string(payload)},
						"fallback":  &types.AttributeValueMemberBOOL{Value: analysis.Fallback},
						"ttl":       &types.AttributeValueMemberN{Value: ttl},
					},
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression: aws.String("SET lastActivity = :now, latestSk = :sk, #ttl = :ttl ADD analyses :one"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":now": &types.AttributeValueMemberS{Value: stored.CreatedAt},
						":sk":  &types.AttributeValueMemberS{Value: sk},
						":ttl": &types.AttributeValueMemberN{Value: ttl},
						":one": &types.AttributeValueMemberN{Value: "1"},
					},
				},
			},
		},
	})
	if err != nil {
		return domain.StoredAnalysis{}, fmt.Errorf("repository: SaveAnalysis: %w", err)
	}
	return stored, nil
}

// GetLatestAnalysis returns the newest analysis for a user. The bool is false
// when the user has none.
func (c *Client) GetLatestAnalysis(ctx context.Context, userID string) (domain.StoredAnalysis, bool, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixAnalysis},
		},
		// Newest first so LIMIT 1 is the latest analysis.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return domain.StoredAnalysis{}, false, fmt.Errorf("repository: GetLatestAnalysis query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return domain.StoredAnalysis{}, false, nil
	}

	stored, err := itemToAnalysis(out.Items[0])
	if err != nil {
		return domain.StoredAnalysis{}, false, fmt.Errorf("repository: GetLatestAnalysis unmarshal: %w", err)
	}
	return stored, true, nil
}

// itemToAnalysis converts a DynamoDB attribute map to a StoredAnalysis.
func itemToAnalysis(item map[string]types.AttributeValue) (domain.StoredAnalysis, error) {
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.StoredAnalysis{}, err
	}
	payload, err := strAttr(item, "analysis")
	if err != nil {
		return domain.StoredAnalysis{}, err
	}
	model, _ := strAttr(item, "model")         // allow empty
	createdAt, _ := strAttr(item, "createdAt") // allow empty

	var analysis domain.ProfileAnalysis
	if err := json.Unmarshal([]byte(payload), &analysis); err != nil {
		return domain.StoredAnalysis{}, fmt.Errorf("repository: decode attribute %q: %w", "analysis", err)
	}
	if fallback, ok := item["fallback"].(*types.AttributeValueMemberBOOL); ok {
		analysis.Fallback = fallback.Value
	}

	return domain.StoredAnalysis{
		UserID:    userID,
		Model:     model,
		CreatedAt: createdAt,
		Analysis:  analysis,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
