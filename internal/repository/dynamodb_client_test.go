package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"advisor-proxy/internal/domain"
	"advisor-proxy/internal/usecase"
)

type fakeDynamo struct {
	queryOut    *dynamodb.QueryOutput
	queryErr    error
	txErr       error
	lastQueryIn *dynamodb.QueryInput
	lastTxInput *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

var _ usecase.AnalysisStore = (*Client)(nil)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	c.newID = func() string { return "id-1" }
	return c
}

func sampleAnalysis() domain.ProfileAnalysis {
	return domain.ProfileAnalysis{
		PersonalizedInsights:     []string{"a", "b"},
		RecommendedUniversities:  []string{"c", "d"},
		ScholarshipOpportunities: []string{"e", "f"},
		VisaRequirements:         []string{"g", "h"},
		TimelineRecommendations:  []string{"i", "j"},
		BudgetAnalysis:           "budget",
		AcademicPath:             "path",
	}
}

func analysisItem(t *testing.T, userID string, a domain.ProfileAnalysis) map[string]types.AttributeValue {
	t.Helper()
	payload, err := json.Marshal(a)
	require.NoError(t, err)
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(userID)},
		"SK":        &types.AttributeValueMemberS{Value: analysisSK(fixedNow, "id-1")},
		"userId":    &types.AttributeValueMemberS{Value: userID},
		"model":     &types.AttributeValueMemberS{Value: "deepseek"},
		"createdAt": &types.AttributeValueMemberS{Value: fixedNow.Format(time.RFC3339)},
		"analysis":  &types.AttributeValueMemberS{Value: string(payload)},
		"fallback":  &types.AttributeValueMemberBOOL{Value: true},
	}
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)

	_, err = New(&fakeDynamo{}, " ")
	require.Error(t, err)
}

func TestAnalysisSK_SortsChronologically(t *testing.T) {
	earlier := analysisSK(fixedNow, "z")
	later := analysisSK(fixedNow.Add(time.Second), "a")
	require.Less(t, earlier, later)
	require.Contains(t, earlier, skPrefixAnalysis)
}

func TestSaveAnalysis_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	stored, err := c.SaveAnalysis(context.Background(), "user-1", "deepseek", sampleAnalysis())
	require.NoError(t, err)
	require.Equal(t, "user-1", stored.UserID)
	require.Equal(t, "2026-03-01T12:00:00Z", stored.CreatedAt)

	require.NotNil(t, db.lastTxInput)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	put := db.lastTxInput.TransactItems[0].Put
	require.NotNil(t, put)
	require.Equal(t, "test-table", aws.ToString(put.TableName))
	require.Equal(t, "USER#user-1", put.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, analysisSK(fixedNow, "id-1"), put.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, aws.ToString(put.ConditionExpression), "attribute_not_exists")

	var decoded domain.ProfileAnalysis
	require.NoError(t, json.Unmarshal([]byte(put.Item["analysis"].(*types.AttributeValueMemberS).Value), &decoded))
	require.Equal(t, sampleAnalysis(), decoded)

	update := db.lastTxInput.TransactItems[1].Update
	require.NotNil(t, update)
	require.Equal(t, skMeta, update.Key["SK"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, aws.ToString(update.UpdateExpression), "ADD analyses :one")
	require.Equal(t, "ttl", update.ExpressionAttributeNames["#ttl"])
}

func TestSaveAnalysis_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	_, err := c.SaveAnalysis(context.Background(), " ", "m", sampleAnalysis())
	require.ErrorContains(t, err, "user ID is required")

	c = mustNewClient(t, &fakeDynamo{txErr: errors.New("conditional check failed")})
	_, err = c.SaveAnalysis(context.Background(), "user-1", "m", sampleAnalysis())
	require.ErrorContains(t, err, "SaveAnalysis")
	require.ErrorContains(t, err, "conditional check failed")
}

func TestGetLatestAnalysis_HappyPath(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{analysisItem(t, "user-1", sampleAnalysis())},
	}}
	c := mustNewClient(t, db)

	got, ok, err := c.GetLatestAnalysis(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "user-1", got.UserID)
	require.Equal(t, "deepseek", got.Model)
	require.True(t, got.Analysis.Fallback)
	require.Equal(t, []string{"c", "d"}, got.Analysis.RecommendedUniversities)

	require.False(t, aws.ToBool(db.lastQueryIn.ScanIndexForward))
	require.Equal(t, int32(1), aws.ToInt32(db.lastQueryIn.Limit))
}

func TestGetLatestAnalysis_NotFound(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryOut: &dynamodb.QueryOutput{}})
	_, ok, err := c.GetLatestAnalysis(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetLatestAnalysis_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, _, err := c.GetLatestAnalysis(context.Background(), "user-1")
	require.ErrorContains(t, err, "GetLatestAnalysis query")

	item := analysisItem(t, "user-1", sampleAnalysis())
	item["analysis"] = &types.AttributeValueMemberS{Value: "{broken"}
	c = mustNewClient(t, &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}})
	_, _, err = c.GetLatestAnalysis(context.Background(), "user-1")
	require.ErrorContains(t, err, "unmarshal")

	item = analysisItem(t, "user-1", sampleAnalysis())
	item["userId"] = &types.AttributeValueMemberN{Value: "1"}
	c = mustNewClient(t, &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}})
	_, _, err = c.GetLatestAnalysis(context.Background(), "user-1")
	require.ErrorContains(t, err, "not a string")
}
