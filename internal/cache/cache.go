// Package cache stores formatted answers keyed by a fingerprint of the
// resolved plan.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"shopify-analytics-agent/internal/domain"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "shopify:analytics:"

// Cache is a TTL-bounded answer store, safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (domain.CachedAnswer, bool, error)
	Set(ctx context.Context, key string, v domain.CachedAnswer, ttl time.Duration) error
	// Backend names the implementation, e.g. "memory" or "redis".
	Backend() string
}

// Fingerprint derives the cache key for plan. It covers the store, intent,
// table, time range, projected fields and the filter, sort and limit that
// change the result; it never looks at question text, so paraphrases that
// resolve to the same plan share a key.
func Fingerprint(storeID string, plan domain.QueryPlan) string {
	fields := make([]string, 0, len(plan.Projections))
	for _, p := range plan.Projections {
		fields = append(fields, fmt.Sprintf("%s(%s)", p.Aggregate, p.Field))
	}
	sort.Strings(fields)

	filters := make([]string, 0, len(plan.Filters))
	for _, f := range plan.Filters {
		filters = append(filters, f.Field+"="+strings.ToLower(strings.TrimSpace(f.Value)))
	}
	sort.Strings(filters)

	tr := "snapshot"
	if !plan.TimeRange.IsZero() {
		tr = plan.TimeRange.Start.Format(domain.DateLayout) + ".." + plan.TimeRange.End.Format(domain.DateLayout)
	}
	order := ""
	if plan.Sort != nil {
		order = plan.Sort.Column + ":" + strconv.FormatBool(plan.Sort.Descending)
	}

	canonical := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(storeID)),
		string(plan.Intent),
		plan.Table,
		tr,
		strings.Join(fields, ","),
		strings.Join(filters, "&"),
		order,
		strconv.Itoa(plan.Limit),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return KeyPrefix + strings.ToLower(strings.TrimSpace(storeID)) + ":" + hex.EncodeToString(sum[:])[:16]
}
