package flowgraph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/pkg/cache"
	"github.com/atharva20-coder/swoopin-sub002/plan"
)

type cachedEntry struct {
	result *ValidationResult
	graph  *Graph
}

// CachedValidator wraps a Validator with a TTL cache keyed by a hash of the
// graph content and the plan tier, so execution never re-validates or
// re-compiles an unchanged flow.
type CachedValidator struct {
	validator *Validator
	cache     cache.Cache[cachedEntry]
	logger    *slog.Logger
}

// NewCachedValidator creates a caching validator. Entries expire after ttl;
// a zero ttl defaults to 10 minutes.
func NewCachedValidator(ctx context.Context, validator *Validator, ttl time.Duration, logger *slog.Logger) (*CachedValidator, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	c, err := cache.NewTTL[cachedEntry](ctx, ttl)
	if err != nil {
		return nil, errors.WrapFatal(err, "flowgraph", "NewCachedValidator", "create cache")
	}
	return &CachedValidator{
		validator: validator,
		cache:     c,
		logger:    logger.With("component", "flowgraph"),
	}, nil
}

// ValidateAndCompile validates the graph and, when valid, compiles it. The
// result is cached under GraphHash(nodes, edges) plus the tier; both hits and
// misses return the same result the uncached path would.
func (cv *CachedValidator) ValidateAndCompile(nodes []automation.FlowNode, edges []automation.FlowEdge, limits plan.Limits) (*ValidationResult, *Graph, error) {
	hash, err := GraphHash(nodes, edges)
	if err != nil {
		return nil, nil, err
	}
	key := hash + ":" + string(limits.Tier)

	if entry, ok := cv.cache.Get(key); ok {
		return entry.result, entry.graph, nil
	}

	result := cv.validator.Validate(nodes, edges, limits)
	entry := cachedEntry{result: result}
	if result.Valid() {
		graph, err := Compile(nodes, edges)
		if err != nil {
			// Validate and Compile disagreeing means a checker gap; surface
			// it as an invalid graph rather than caching the inconsistency.
			cv.logger.Error("graph compiled after passing validation failed",
				"hash", hash, "error", err)
			return nil, nil, err
		}
		entry.graph = graph
	}

	cv.cache.Set(key, entry)
	return entry.result, entry.graph, nil
}

// Stats exposes cache statistics.
func (cv *CachedValidator) Stats() *cache.Statistics { return cv.cache.Stats() }

// Close stops the cache's background sweeper.
func (cv *CachedValidator) Close() error { return cv.cache.Close() }

// GraphHash returns the SHA-256 of the canonical JSON encoding of the nodes
// and edges. The same node and edge lists always hash identically, so the
// hash doubles as the persisted validation fingerprint.
func GraphHash(nodes []automation.FlowNode, edges []automation.FlowEdge) (string, error) {
	payload := struct {
		Nodes []automation.FlowNode `json:"nodes"`
		Edges []automation.FlowEdge `json:"edges"`
	}{Nodes: nodes, Edges: edges}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.WrapInvalid(fmt.Errorf("canonical encode: %w", err), "flowgraph", "GraphHash", "marshal graph")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
