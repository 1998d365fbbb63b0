package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// canonicalScope is the normalized JSON shape hashed for duplicate
// suppression: {type, sorted(item_ids|feed_ids), start_time, end_time,
// model_tag, limit}. Reordering item_ids/feed_ids must not change the hash.
type canonicalScope struct {
	Type      ScopeType `json:"type"`
	ItemIDs   []int64   `json:"item_ids,omitempty"`
	FeedIDs   []int64   `json:"feed_ids,omitempty"`
	StartTime string    `json:"start_time,omitempty"`
	EndTime   string    `json:"end_time,omitempty"`
	ModelTag  string    `json:"model_tag"`
	Limit     int       `json:"limit"`
}

// ScopeHash computes the 16-hex-char deterministic digest identifying a
// (scope, params) pair for duplicate suppression in the run queue.
func ScopeHash(scope RunScope, params RunParams) string {
	c := canonicalScope{
		Type:     scope.Type,
		ItemIDs:  sortedCopy(scope.ItemIDs),
		FeedIDs:  sortedCopy(scope.FeedIDs),
		ModelTag: params.Model,
		Limit:    scope.Limit,
	}
	if scope.StartTime != nil {
		c.StartTime = scope.StartTime.UTC().Format(time.RFC3339)
	}
	if scope.EndTime != nil {
		c.EndTime = scope.EndTime.UTC().Format(time.RFC3339)
	}

	// json.Marshal of a struct with fixed field order yields a stable byte
	// sequence across calls, which is all ScopeHash needs for determinism.
	b, err := json.Marshal(c)
	if err != nil {
		// canonicalScope only contains marshalable types; this cannot fail
		// in practice, but a panic here would be worse than a degraded hash.
		b = []byte(err.Error())
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

func sortedCopy(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
