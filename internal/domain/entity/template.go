package entity

import "time"

// DynamicFeedTemplate is an optional per-feed extraction override: field
// mappings from feed-entry attribute paths to logical item fields, an
// ordered content-processing rule pipeline, and quality filters.
type DynamicFeedTemplate struct {
	ID                     int64
	Name                   string
	FieldMappings          FieldMappings
	ContentProcessingRules []ContentProcessingRule
	QualityFilters         QualityFilters
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// FieldMappings maps logical fields (title, description, link, author,
// published, guid) to dotted attribute paths on the parsed feed entry.
// An empty map means "use the default mapping" (§4.3.1).
type FieldMappings map[string]string

// ContentProcessingRule is one {type, params} step in a template's
// extraction pipeline. Recognized types: html_extract, text_normalize,
// remove_tracking. Unknown types are ignored without error.
type ContentProcessingRule struct {
	Type   string
	Params map[string]any
}

// QualityFilters gates extracted items before persistence.
type QualityFilters struct {
	MinTitleLength int
	MaxTitleLength int
}

// FeedTemplateAssignment binds a Feed to a DynamicFeedTemplate with a
// priority; when several are active for one feed the highest-priority
// assignment's template applies.
type FeedTemplateAssignment struct {
	ID         int64
	FeedID     int64
	TemplateID int64
	Priority   int
	Active     bool
	CreatedAt  time.Time
}

// ConfigChangeType enumerates the mutations the configuration watcher (C4)
// reconciles.
type ConfigChangeType string

const (
	ChangeFeedCreated           ConfigChangeType = "feed_created"
	ChangeFeedUpdated           ConfigChangeType = "feed_updated"
	ChangeFeedDeleted           ConfigChangeType = "feed_deleted"
	ChangeTemplateCreated       ConfigChangeType = "template_created"
	ChangeTemplateUpdated       ConfigChangeType = "template_updated"
	ChangeTemplateDeleted       ConfigChangeType = "template_deleted"
	ChangeTemplateAssigned   ConfigChangeType = "feed_template_assigned"
	ChangeTemplateUnassigned ConfigChangeType = "feed_template_unassigned"
)

// FeedConfigurationChange is an append-only audit-log row consumed by the
// configuration watcher.
type FeedConfigurationChange struct {
	ID         int64
	ChangeType ConfigChangeType
	FeedID     *int64
	TemplateID *int64
	OldConfig  []byte // json, nullable
	NewConfig  []byte // json, nullable
	CreatedAt  time.Time
	AppliedAt  *time.Time
}

// FeedSchedulerState is the per-scheduler-instance singleton row used for
// change-log watermarking and drift-hash comparison.
type FeedSchedulerState struct {
	ID                     int64
	LastConfigCheck        time.Time
	LastHeartbeat          time.Time
	LastFeedConfigHash     string
	LastTemplateConfigHash string
	IsActive               bool
}
