package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
)

// Result message headers.
const (
	HeaderStatus     = "status"
	HeaderResolvedAt = "resolved_at"
)

// Resolver runs a single query.
type Resolver interface {
	Resolve(ctx context.Context, q Query) (Result, error)
}

// QueryMessage is the JSON payload read from the source topic.
type QueryMessage struct {
	QueryID string `json:"query_id"`
	Name    string `json:"name"`
	Rank    string `json:"rank,omitempty"`
}

// ResultMessage is the JSON summary published to the sink topic. Point-level data
// stays out of the topic.
type ResultMessage struct {
	QueryID    string               `json:"query_id"`
	Name       string               `json:"name"`
	Rank       domain.Rank          `json:"rank"`
	Status     Status               `json:"status"`
	Taxon      domain.ResolvedTaxon `json:"taxon"`
	Regions    []domain.RegionCount `json:"regions"`
	Summary    Summary              `json:"summary"`
	Fetched    int                  `json:"fetched"`
	Dropped    int                  `json:"dropped"`
	Truncated  bool                 `json:"truncated"`
	Error      string               `json:"error,omitempty"`
	ResolvedAt time.Time            `json:"resolved_at"`
}

// QueryTransformer implements Transformer by running each query through a Resolver.
type QueryTransformer struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewTransformer creates a QueryTransformer.
func NewTransformer(r Resolver, logger *slog.Logger) *QueryTransformer {
	return &QueryTransformer{
		resolver: r,
		logger:   logger,
	}
}

func (t *QueryTransformer) Transform(ctx context.Context, raw domain.RawMessage) (domain.OutputMessage, error) {
	msg, rank, err := ParseQueryMessage(raw)
	if err != nil {
		return domain.OutputMessage{}, err
	}

	res, err := t.resolver.Resolve(ctx, Query{Name: msg.Name, Rank: rank})
	if err != nil {
		return domain.OutputMessage{}, err
	}
	if msg.QueryID == "" {
		msg.QueryID = res.QueryID
	}

	return SerializeResult(msg.QueryID, res)
}

// ParseQueryMessage decodes a query message. The message key is used as the query
// id when the payload has none.
func ParseQueryMessage(raw domain.RawMessage) (QueryMessage, domain.Rank, error) {
	var msg QueryMessage
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		return QueryMessage{}, "", fmt.Errorf("decode query message: %w", err)
	}
	msg.Name = strings.TrimSpace(msg.Name)
	if msg.Name == "" {
		return QueryMessage{}, "", errors.New("query message has no name")
	}
	rank, err := domain.ParseRank(msg.Rank)
	if err != nil {
		return QueryMessage{}, "", err
	}
	if msg.QueryID == "" {
		msg.QueryID = string(raw.Key)
	}
	return msg, rank, nil
}

// SerializeResult encodes the summary of res as a sink message keyed by queryID.
func SerializeResult(queryID string, res Result) (domain.OutputMessage, error) {
	out := ResultMessage{
		QueryID:    queryID,
		Name:       res.Query.Name,
		Rank:       res.Query.Rank,
		Status:     res.Status,
		Taxon:      res.Taxon,
		Regions:    res.Regions,
		Summary:    res.Summary,
		Fetched:    res.Fetched,
		Dropped:    res.Dropped,
		Truncated:  res.Truncated,
		Error:      res.Error,
		ResolvedAt: res.CompletedAt,
	}
	value, err := json.Marshal(out)
	if err != nil {
		return domain.OutputMessage{}, fmt.Errorf("encode result message: %w", err)
	}
	return domain.OutputMessage{
		Key:   []byte(queryID),
		Value: value,
		Headers: map[string]string{
			HeaderStatus:     string(res.Status),
			HeaderResolvedAt: res.CompletedAt.UTC().Format(time.RFC3339),
		},
	}, nil
}
