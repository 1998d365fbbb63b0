package repository

import (
	"context"

	"newspulse/internal/domain/entity"
)

// TemplateRepository is the Storage Adapter's contract for dynamic feed
// templates and their per-feed assignments (spec §3
// DynamicFeedTemplate+FeedTemplateAssignment).
type TemplateRepository interface {
	Get(ctx context.Context, id int64) (*entity.DynamicFeedTemplate, error)
	List(ctx context.Context) ([]*entity.DynamicFeedTemplate, error)
	Create(ctx context.Context, tmpl *entity.DynamicFeedTemplate) error
	Update(ctx context.Context, tmpl *entity.DynamicFeedTemplate) error
	Delete(ctx context.Context, id int64) error

	// ActiveAssignmentForFeed returns the highest-priority active assignment
	// for a feed, or nil if none exists (spec §3: "When a feed has ≥1 active
	// assignment, the highest-priority template's rules apply").
	ActiveAssignmentForFeed(ctx context.Context, feedID int64) (*entity.FeedTemplateAssignment, error)
	AssignmentsForFeed(ctx context.Context, feedID int64) ([]*entity.FeedTemplateAssignment, error)
	Assign(ctx context.Context, assignment *entity.FeedTemplateAssignment) error
	Unassign(ctx context.Context, id int64) error
}
