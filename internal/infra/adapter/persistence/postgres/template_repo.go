package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"newspulse/internal/domain/entity"
	"newspulse/internal/repository"
)

type TemplateRepo struct{ db *sql.DB }

func NewTemplateRepo(db *sql.DB) repository.TemplateRepository {
	return &TemplateRepo{db: db}
}

func scanTemplate(row interface{ Scan(...interface{}) error }) (*entity.DynamicFeedTemplate, error) {
	var t entity.DynamicFeedTemplate
	var fieldMappingsJSON, rulesJSON, filtersJSON []byte
	if err := row.Scan(&t.ID, &t.Name, &fieldMappingsJSON, &rulesJSON, &filtersJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if len(fieldMappingsJSON) > 0 {
		if err := json.Unmarshal(fieldMappingsJSON, &t.FieldMappings); err != nil {
			return nil, fmt.Errorf("unmarshal field_mappings: %w", err)
		}
	}
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &t.ContentProcessingRules); err != nil {
			return nil, fmt.Errorf("unmarshal content_processing_rules: %w", err)
		}
	}
	if len(filtersJSON) > 0 {
		if err := json.Unmarshal(filtersJSON, &t.QualityFilters); err != nil {
			return nil, fmt.Errorf("unmarshal quality_filters: %w", err)
		}
	}
	return &t, nil
}

const templateColumns = `id, name, field_mappings, content_processing_rules, quality_filters, created_at, updated_at`

func (r *TemplateRepo) Get(ctx context.Context, id int64) (*entity.DynamicFeedTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM dynamic_feed_templates WHERE id = $1`, templateColumns)
	t, err := scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return t, nil
}

func (r *TemplateRepo) List(ctx context.Context) ([]*entity.DynamicFeedTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM dynamic_feed_templates ORDER BY id ASC`, templateColumns)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	templates := make([]*entity.DynamicFeedTemplate, 0, 16)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

func (r *TemplateRepo) Create(ctx context.Context, t *entity.DynamicFeedTemplate) error {
	fieldMappingsJSON, err := json.Marshal(t.FieldMappings)
	if err != nil {
		return fmt.Errorf("Create: marshal field_mappings: %w", err)
	}
	rulesJSON, err := json.Marshal(t.ContentProcessingRules)
	if err != nil {
		return fmt.Errorf("Create: marshal content_processing_rules: %w", err)
	}
	filtersJSON, err := json.Marshal(t.QualityFilters)
	if err != nil {
		return fmt.Errorf("Create: marshal quality_filters: %w", err)
	}
	const query = `
INSERT INTO dynamic_feed_templates (name, field_mappings, content_processing_rules, quality_filters, created_at, updated_at)
VALUES ($1,$2,$3,$4,now(),now())
RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query, t.Name, fieldMappingsJSON, rulesJSON, filtersJSON).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *TemplateRepo) Update(ctx context.Context, t *entity.DynamicFeedTemplate) error {
	fieldMappingsJSON, err := json.Marshal(t.FieldMappings)
	if err != nil {
		return fmt.Errorf("Update: marshal field_mappings: %w", err)
	}
	rulesJSON, err := json.Marshal(t.ContentProcessingRules)
	if err != nil {
		return fmt.Errorf("Update: marshal content_processing_rules: %w", err)
	}
	filtersJSON, err := json.Marshal(t.QualityFilters)
	if err != nil {
		return fmt.Errorf("Update: marshal quality_filters: %w", err)
	}
	const query = `
UPDATE dynamic_feed_templates SET
	name = $1, field_mappings = $2, content_processing_rules = $3, quality_filters = $4, updated_at = now()
WHERE id = $5`
	res, err := r.db.ExecContext(ctx, query, t.Name, fieldMappingsJSON, rulesJSON, filtersJSON, t.ID)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrNotFound
	}
	return nil
}

func (r *TemplateRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dynamic_feed_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrNotFound
	}
	return nil
}

func (r *TemplateRepo) ActiveAssignmentForFeed(ctx context.Context, feedID int64) (*entity.FeedTemplateAssignment, error) {
	const query = `
SELECT id, feed_id, template_id, priority, active, created_at
FROM feed_template_assignments
WHERE feed_id = $1 AND active = TRUE
ORDER BY priority DESC
LIMIT 1`
	var a entity.FeedTemplateAssignment
	err := r.db.QueryRowContext(ctx, query, feedID).Scan(&a.ID, &a.FeedID, &a.TemplateID, &a.Priority, &a.Active, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ActiveAssignmentForFeed: %w", err)
	}
	return &a, nil
}

func (r *TemplateRepo) AssignmentsForFeed(ctx context.Context, feedID int64) ([]*entity.FeedTemplateAssignment, error) {
	const query = `
SELECT id, feed_id, template_id, priority, active, created_at
FROM feed_template_assignments
WHERE feed_id = $1
ORDER BY priority DESC`
	rows, err := r.db.QueryContext(ctx, query, feedID)
	if err != nil {
		return nil, fmt.Errorf("AssignmentsForFeed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	assignments := make([]*entity.FeedTemplateAssignment, 0, 4)
	for rows.Next() {
		var a entity.FeedTemplateAssignment
		if err := rows.Scan(&a.ID, &a.FeedID, &a.TemplateID, &a.Priority, &a.Active, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("AssignmentsForFeed: %w", err)
		}
		assignments = append(assignments, &a)
	}
	return assignments, rows.Err()
}

func (r *TemplateRepo) Assign(ctx context.Context, a *entity.FeedTemplateAssignment) error {
	const query = `
INSERT INTO feed_template_assignments (feed_id, template_id, priority, active, created_at)
VALUES ($1,$2,$3,$4,now())
RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, a.FeedID, a.TemplateID, a.Priority, a.Active).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("Assign: %w", err)
	}
	return nil
}

func (r *TemplateRepo) Unassign(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE feed_template_assignments SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("Unassign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrNotFound
	}
	return nil
}
