package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jonboulle/clockwork"

	"shopify-analytics-agent/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	skMeta       = "META#"
	// Fixed-width so sort keys order the same as the times they encode.
	turnLayout = "2006-01-02T15:04:05.000000000Z07:00"
	// retention bounds how long items linger before DynamoDB TTL removes them.
	// Conversation expiry itself is enforced on read via expiresAt.
	retention = 30 * 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores conversation turns in a single DynamoDB table. Each
// conversation is one partition: a META# item tracking activity, expiry and
// the start of the current lifetime, and one TURN#<timestamp> item per
// exchange. Turns from an expired lifetime stay in the table until DynamoDB
// TTL removes them but are never read back.
type Client struct {
	api       dynamodbAPI
	tableName string
	maxTurns  int
	ttl       time.Duration
	clock     clockwork.Clock
}

// Option configures a Client.
type Option func(*Client)

// WithClock overrides the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(cl *Client) {
		if c != nil {
			cl.clock = c
		}
	}
}

// New creates a new repository Client. Conversations expire ttl after their
// last append, and Get returns at most maxTurns turns.
func New(api dynamodbAPI, tableName string, maxTurns int, ttl time.Duration, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if maxTurns <= 0 {
		return nil, errors.New("repository: max turns must be positive")
	}
	if ttl <= 0 {
		return nil, errors.New("repository: ttl must be positive")
	}
	c := &Client{
		api:       api,
		tableName: tableName,
		maxTurns:  maxTurns,
		ttl:       ttl,
		clock:     clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) Backend() string { return "dynamodb" }

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format(turnLayout)
}

func (c *Client) metaKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// lifetime reports whether meta describes a conversation that has not
// expired, and the sort key of its first turn.
func (c *Client) lifetime(meta map[string]types.AttributeValue) (live bool, from string, err error) {
	if len(meta) == 0 {
		return false, "", nil
	}
	expiresAt, err := int64Attr(meta, "expiresAt")
	if err != nil {
		return false, "", err
	}
	if c.clock.Now().Unix() >= expiresAt {
		return false, "", nil
	}
	from = skPrefixTurn
	if started, err := strAttr(meta, "startedAt"); err == nil {
		from = skPrefixTurn + started
	}
	return true, from, nil
}

// Get returns the most recent turns of a live conversation, oldest first.
func (c *Client) Get(ctx context.Context, conversationID string) (domain.ConversationContext, error) {
	out := domain.ConversationContext{ConversationID: conversationID}
	pk := convPK(conversationID)

	meta, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.metaKey(pk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return out, fmt.Errorf("repository: Get meta: %w", err)
	}
	if meta == nil {
		return out, nil
	}
	live, from, err := c.lifetime(meta.Item)
	if err != nil {
		return out, fmt.Errorf("repository: Get decode meta: %w", err)
	}
	if !live {
		return out, nil
	}

	res, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND SK BETWEEN :from AND :to"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: pk},
			":from": &types.AttributeValueMemberS{Value: from},
			":to":   &types.AttributeValueMemberS{Value: skPrefixTurn + "~"},
		},
		// Newest first so the limit keeps the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(c.maxTurns)),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return out, fmt.Errorf("repository: Get query: %w", err)
	}

	turns := make([]domain.ConversationTurn, 0, len(res.Items))
	for _, item := range res.Items {
		t, err := itemToTurn(item)
		if err != nil {
			return out, fmt.Errorf("repository: Get unmarshal: %w", err)
		}
		turns = append(turns, t)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	out.Turns = turns
	return out, nil
}

// Append writes the turn and refreshes the conversation expiry in one
// transaction. Appending to an expired conversation starts a new lifetime,
// so earlier turns are not resurrected.
func (c *Client) Append(ctx context.Context, conversationID string, turn domain.ConversationTurn) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: Append: conversation id is required")
	}
	now := c.clock.Now().UTC()
	if turn.At.IsZero() {
		turn.At = now
	}
	pk := convPK(conversationID)
	gc := strconv.FormatInt(now.Add(retention).Unix(), 10)

	meta, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.metaKey(pk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("repository: Append meta: %w", err)
	}
	started := turn.At.UTC().Format(turnLayout)
	if meta != nil {
		live, from, err := c.lifetime(meta.Item)
		if err != nil {
			return fmt.Errorf("repository: Append decode meta: %w", err)
		}
		if live {
			started = strings.TrimPrefix(from, skPrefixTurn)
		}
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(pk, conversationID, turn, gc),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName:        aws.String(c.tableName),
					Key:              c.metaKey(pk),
					UpdateExpression: aws.String("SET conversationId = :id, lastActivity = :now, expiresAt = :exp, startedAt = :start, #ttl = :gc ADD turns :one"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":id":    &types.AttributeValueMemberS{Value: conversationID},
						":now":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
						":exp":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(c.ttl).Unix(), 10)},
						":start": &types.AttributeValueMemberS{Value: started},
						":gc":    &types.AttributeValueMemberN{Value: gc},
						":one":   &types.AttributeValueMemberN{Value: "1"},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

func turnItem(pk, conversationID string, t domain.ConversationTurn, gc string) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: pk},
		"SK":             &types.AttributeValueMemberS{Value: turnSK(t.At)},
		"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		"question":       &types.AttributeValueMemberS{Value: t.Question},
		"intent":         &types.AttributeValueMemberS{Value: string(t.Intent)},
		"answer":         &types.AttributeValueMemberS{Value: t.Answer},
		"query":          &types.AttributeValueMemberS{Value: t.Query},
		"dataSource":     &types.AttributeValueMemberS{Value: string(t.DataSource)},
		"clarification":  &types.AttributeValueMemberBOOL{Value: t.Clarification},
		"at":             &types.AttributeValueMemberS{Value: t.At.UTC().Format(turnLayout)},
		"ttl":            &types.AttributeValueMemberN{Value: gc},
	}
	if !t.TimeRange.IsZero() {
		item["rangeStart"] = &types.AttributeValueMemberS{Value: t.TimeRange.Start.Format(domain.DateLayout)}
		item["rangeEnd"] = &types.AttributeValueMemberS{Value: t.TimeRange.End.Format(domain.DateLayout)}
		item["rangeLabel"] = &types.AttributeValueMemberS{Value: t.TimeRange.Label}
	}
	return item
}

func itemToTurn(item map[string]types.AttributeValue) (domain.ConversationTurn, error) {
	question, err := strAttr(item, "question")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	intent, err := strAttr(item, "intent")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	answer, _ := strAttr(item, "answer")
	query, _ := strAttr(item, "query")
	source, _ := strAttr(item, "dataSource")

	t := domain.ConversationTurn{
		Question:   question,
		Intent:     domain.Intent(intent),
		Answer:     answer,
		Query:      query,
		DataSource: domain.DataSource(source),
	}
	if b, ok := item["clarification"].(*types.AttributeValueMemberBOOL); ok {
		t.Clarification = b.Value
	}
	if at, err := strAttr(item, "at"); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			t.At = ts
		}
	}
	if start, err := strAttr(item, "rangeStart"); err == nil {
		end, err := strAttr(item, "rangeEnd")
		if err != nil {
			return domain.ConversationTurn{}, err
		}
		label, _ := strAttr(item, "rangeLabel")
		tr, err := parseRange(start, end, label)
		if err != nil {
			return domain.ConversationTurn{}, err
		}
		t.TimeRange = tr
	}
	return t, nil
}

func parseRange(start, end, label string) (domain.TimeRange, error) {
	s, err := time.ParseInLocation(domain.DateLayout, start, time.UTC)
	if err != nil {
		return domain.TimeRange{}, fmt.Errorf("repository: parse rangeStart: %w", err)
	}
	e, err := time.ParseInLocation(domain.DateLayout, end, time.UTC)
	if err != nil {
		return domain.TimeRange{}, fmt.Errorf("repository: parse rangeEnd: %w", err)
	}
	return domain.TimeRange{Start: s, End: e, Label: label}, nil
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

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
