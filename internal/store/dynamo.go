package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/adcraft/creative-orchestrator/internal/generation"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "DRAFT#"
	skMeta   = "META"
	skJob    = "JOB#"
	skVer    = "VER#"
	skScene  = "SCENE#"
)

// DynamoStore implements DraftStore using AWS DynamoDB.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// Compile-time interface check.
var _ DraftStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// --- Internal helpers ---

// draftPK returns the partition key for a draft.
func draftPK(draftID string) string {
	return pkPrefix + draftID
}

// verSK builds the version sort key. Zero-padding keeps versions sorted
// lexicographically in scene-then-version order.
func verSK(sceneIndex, version int) string {
	return fmt.Sprintf("%s%04d#%04d", skVer, sceneIndex, version)
}

func sceneSK(sceneIndex int) string {
	return fmt.Sprintf("%s%04d", skScene, sceneIndex)
}

// expiresAt returns the Unix epoch timestamp for record expiration (now + DraftTTL).
func expiresAt() int64 {
	return time.Now().Add(DraftTTL).Unix()
}

// putItem marshals a domain object and writes it to DynamoDB with PK, SK,
// and TTL. The domain object should use dynamodbav:"-" for fields derived
// from PK/SK.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item from DynamoDB and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// updateAttr performs a single-attribute partial update on an item.
// Attribute names are aliased to survive DynamoDB reserved words.
func (s *DynamoStore) updateAttr(ctx context.Context, pk, sk, attr string, value types.AttributeValue) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		UpdateExpression: aws.String("SET #a = :v"),
		ExpressionAttributeNames: map[string]string{
			"#a": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": value,
		},
	})
	if err != nil {
		return fmt.Errorf("UpdateItem PK=%s SK=%s attr=%s: %w", pk, sk, attr, err)
	}
	return nil
}

// queryBySKPrefix queries all items for a draft where SK begins with the
// given prefix, following pagination.
func (s *DynamoStore) queryBySKPrefix(ctx context.Context, draftID, prefix string) ([]map[string]types.AttributeValue, error) {
	pk := draftPK(draftID)

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: prefix},
		},
	}

	var allItems []map[string]types.AttributeValue
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, prefix, err)
		}
		allItems = append(allItems, result.Items...)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return allItems, nil
}

// --- Draft metadata ---

func (s *DynamoStore) PutDraft(ctx context.Context, draft *Draft) error {
	if draft.CreatedAt == 0 {
		draft.CreatedAt = time.Now().Unix()
	}

	if err := s.putItem(ctx, draftPK(draft.ID), skMeta, draft); err != nil {
		return fmt.Errorf("put draft %s: %w", draft.ID, err)
	}

	log.Debug().Str("draftId", draft.ID).Str("status", draft.Status).Msg("Draft persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) GetDraft(ctx context.Context, draftID string) (*Draft, error) {
	var draft Draft
	found, err := s.getItem(ctx, draftPK(draftID), skMeta, &draft)
	if err != nil {
		return nil, fmt.Errorf("get draft %s: %w", draftID, err)
	}
	if !found {
		return nil, nil
	}

	draft.ID = draftID
	return &draft, nil
}

func (s *DynamoStore) UpdateDraftStatus(ctx context.Context, draftID, status string) error {
	// "status" is a DynamoDB reserved word; updateAttr aliases it.
	err := s.updateAttr(ctx, draftPK(draftID), skMeta, "status",
		&types.AttributeValueMemberS{Value: status})
	if err != nil {
		return fmt.Errorf("update draft status %s -> %s: %w", draftID, status, err)
	}

	log.Debug().Str("draftId", draftID).Str("status", status).Msg("Draft status checkpointed")
	return nil
}

func (s *DynamoStore) UpdateWizardStep(ctx context.Context, draftID, step string) error {
	err := s.updateAttr(ctx, draftPK(draftID), skMeta, "wizardStep",
		&types.AttributeValueMemberS{Value: step})
	if err != nil {
		return fmt.Errorf("update wizard step %s -> %s: %w", draftID, step, err)
	}
	return nil
}

func (s *DynamoStore) UpdateSceneOrder(ctx context.Context, draftID string, order []int) error {
	values := make([]types.AttributeValue, len(order))
	for i, idx := range order {
		values[i] = &types.AttributeValueMemberN{Value: strconv.Itoa(idx)}
	}
	err := s.updateAttr(ctx, draftPK(draftID), skMeta, "sceneOrder",
		&types.AttributeValueMemberL{Value: values})
	if err != nil {
		return fmt.Errorf("update scene order for %s: %w", draftID, err)
	}

	log.Debug().Str("draftId", draftID).Ints("order", order).Msg("Scene order checkpointed")
	return nil
}

func (s *DynamoStore) UpdateCreditsReserved(ctx context.Context, draftID string, credits int) error {
	err := s.updateAttr(ctx, draftPK(draftID), skMeta, "creditsReserved",
		&types.AttributeValueMemberN{Value: strconv.Itoa(credits)})
	if err != nil {
		return fmt.Errorf("update credits reserved for %s: %w", draftID, err)
	}
	return nil
}

func (s *DynamoStore) UpdateCancelRequested(ctx context.Context, draftID string, requested bool) error {
	err := s.updateAttr(ctx, draftPK(draftID), skMeta, "cancelRequested",
		&types.AttributeValueMemberBOOL{Value: requested})
	if err != nil {
		return fmt.Errorf("update cancel flag for %s: %w", draftID, err)
	}

	log.Debug().Str("draftId", draftID).Bool("requested", requested).Msg("Cancel flag checkpointed")
	return nil
}

// --- Generation jobs ---

func (s *DynamoStore) PutJob(ctx context.Context, draftID string, job *generation.Job) error {
	if err := s.putItem(ctx, draftPK(draftID), skJob+job.RequestID, job); err != nil {
		return fmt.Errorf("put job %s/%s: %w", draftID, job.RequestID, err)
	}

	log.Debug().
		Str("draftId", draftID).
		Str("requestId", job.RequestID).
		Str("status", string(job.Status)).
		Int("sceneIndex", job.SceneIndex).
		Msg("Job checkpointed")
	return nil
}

func (s *DynamoStore) ListJobs(ctx context.Context, draftID string) ([]*generation.Job, error) {
	items, err := s.queryBySKPrefix(ctx, draftID, skJob)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", draftID, err)
	}

	jobs := make([]*generation.Job, 0, len(items))
	for _, item := range items {
		var job generation.Job
		if err := attributevalue.UnmarshalMap(item, &job); err != nil {
			log.Warn().Err(err).Str("draftId", draftID).Msg("Failed to unmarshal job record, skipping")
			continue
		}

		// Extract request ID from SK: "JOB#req-001" → "req-001"
		if skAttr, ok := item["SK"].(*types.AttributeValueMemberS); ok {
			job.RequestID = strings.TrimPrefix(skAttr.Value, skJob)
		}
		jobs = append(jobs, &job)
	}

	return jobs, nil
}

// --- Asset versions ---

func (s *DynamoStore) PutVersion(ctx context.Context, draftID string, version *AssetVersion) error {
	sk := verSK(version.SceneIndex, version.Version)
	if err := s.putItem(ctx, draftPK(draftID), sk, version); err != nil {
		return fmt.Errorf("put version %s/%s: %w", draftID, sk, err)
	}

	log.Debug().
		Str("draftId", draftID).
		Int("sceneIndex", version.SceneIndex).
		Int("version", version.Version).
		Bool("degraded", version.Degraded).
		Msg("Asset version recorded")
	return nil
}

// sceneActivePointer is the SCENE# record carrying the active version ID.
type sceneActivePointer struct {
	ActiveVersionID string `dynamodbav:"activeVersionId"`
}

func (s *DynamoStore) ListVersions(ctx context.Context, draftID string) ([]*AssetVersion, error) {
	items, err := s.queryBySKPrefix(ctx, draftID, skVer)
	if err != nil {
		return nil, fmt.Errorf("list versions for %s: %w", draftID, err)
	}

	active, err := s.activePointers(ctx, draftID)
	if err != nil {
		return nil, err
	}

	versions := make([]*AssetVersion, 0, len(items))
	for _, item := range items {
		var v AssetVersion
		if err := attributevalue.UnmarshalMap(item, &v); err != nil {
			log.Warn().Err(err).Str("draftId", draftID).Msg("Failed to unmarshal version record, skipping")
			continue
		}
		v.IsActive = active[v.SceneIndex] == v.ID
		versions = append(versions, &v)
	}

	sort.Slice(versions, func(i, j int) bool {
		if versions[i].SceneIndex != versions[j].SceneIndex {
			return versions[i].SceneIndex < versions[j].SceneIndex
		}
		return versions[i].Version < versions[j].Version
	})
	return versions, nil
}

func (s *DynamoStore) SetActiveVersion(ctx context.Context, draftID string, sceneIndex int, versionID string) error {
	err := s.updateAttr(ctx, draftPK(draftID), sceneSK(sceneIndex), "activeVersionId",
		&types.AttributeValueMemberS{Value: versionID})
	if err != nil {
		return fmt.Errorf("set active version %s scene %d -> %s: %w", draftID, sceneIndex, versionID, err)
	}

	log.Debug().
		Str("draftId", draftID).
		Int("sceneIndex", sceneIndex).
		Str("versionId", versionID).
		Msg("Active version repointed")
	return nil
}

// activePointers reads every SCENE# record into a sceneIndex → versionID map.
func (s *DynamoStore) activePointers(ctx context.Context, draftID string) (map[int]string, error) {
	items, err := s.queryBySKPrefix(ctx, draftID, skScene)
	if err != nil {
		return nil, fmt.Errorf("list scene pointers for %s: %w", draftID, err)
	}

	active := make(map[int]string, len(items))
	for _, item := range items {
		skAttr, ok := item["SK"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(skAttr.Value, skScene))
		if err != nil {
			continue
		}
		var ptr sceneActivePointer
		if err := attributevalue.UnmarshalMap(item, &ptr); err != nil {
			continue
		}
		active[idx] = ptr.ActiveVersionID
	}
	return active, nil
}
