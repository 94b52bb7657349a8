package templates

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "notification-workers/internal/common/errors"
	"notification-workers/internal/models"
)

const templateSchema = `
CREATE TABLE IF NOT EXISTS notification_templates (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	type             TEXT NOT NULL,
	category         TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	variants         JSONB NOT NULL,
	version          TEXT NOT NULL,
	version_major    INTEGER NOT NULL DEFAULT 0,
	version_minor    INTEGER NOT NULL DEFAULT 0,
	version_patch    INTEGER NOT NULL DEFAULT 0,
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	default_language TEXT NOT NULL DEFAULT 'en',
	created_by       TEXT NOT NULL DEFAULT '',
	updated_by       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	total_sent       BIGINT NOT NULL DEFAULT 0,
	last_used        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_notification_templates_type_active
	ON notification_templates (type, is_active);
CREATE INDEX IF NOT EXISTS idx_notification_templates_variants
	ON notification_templates USING GIN (variants jsonb_path_ops);
`

const templateColumns = "id, name, type, category, description, variants, version, is_active, " +
	"default_language, created_by, updated_by, created_at, updated_at, total_sent, last_used"

const versionOrder = "version_major DESC, version_minor DESC, version_patch DESC, updated_at DESC, id"

// PostgresStore keeps templates in a single table with the variants stored
// as a JSONB array.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the table and its indexes when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, templateSchema); err != nil {
		return fmt.Errorf("create template schema: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row rowScanner) (*models.Template, error) {
	var (
		t        models.Template
		variants []byte
		lastUsed sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Type, &t.Category, &t.Description, &variants, &t.Version, &t.IsActive,
		&t.DefaultLanguage, &t.CreatedBy, &t.UpdatedBy, &t.CreatedAt, &t.UpdatedAt,
		&t.Usage.TotalSent, &lastUsed,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(variants, &t.Variants); err != nil {
		return nil, fmt.Errorf("decode variants of %s: %w", t.ID, err)
	}
	if lastUsed.Valid {
		lu := lastUsed.Time
		t.Usage.LastUsed = &lu
	}
	return &t, nil
}

func (s *PostgresStore) FindActive(ctx context.Context, t models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*models.Template, error) {
	match, err := json.Marshal([]map[string]string{{
		"channel":  string(ch),
		"userRole": string(role),
		"language": lang,
	}})
	if err != nil {
		return nil, err
	}

	query := "SELECT " + templateColumns + " FROM notification_templates " +
		"WHERE type = $1 AND is_active = TRUE AND variants @> $2::jsonb " +
		"ORDER BY " + versionOrder + " LIMIT 1"

	tmpl, err := scanTemplate(s.db.QueryRowContext(ctx, query, string(t), string(match)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active template: %w", err)
	}
	return tmpl, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.Template, error) {
	query := "SELECT " + templateColumns + " FROM notification_templates WHERE id = $1"
	tmpl, err := scanTemplate(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewTemplateIDNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("find template %s: %w", id, err)
	}
	return tmpl, nil
}

func (s *PostgresStore) ListByType(ctx context.Context, t models.TemplateType) ([]*models.Template, error) {
	query := "SELECT " + templateColumns + " FROM notification_templates WHERE type = $1 ORDER BY " + versionOrder
	rows, err := s.db.QueryContext(ctx, query, string(t))
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	return collectTemplates(rows)
}

func collectTemplates(rows *sql.Rows) ([]*models.Template, error) {
	out := []*models.Template{}
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// buildWhere turns a filter into a WHERE clause and its positional args.
func buildWhere(f Filter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Type != "" {
		conds = append(conds, "type = "+arg(string(f.Type)))
	}
	if f.Category != "" {
		conds = append(conds, "category = "+arg(string(f.Category)))
	}
	if f.Active != nil {
		conds = append(conds, "is_active = "+arg(*f.Active))
	}
	if f.Channel != "" || f.Role != "" || f.Language != "" {
		match := map[string]string{}
		if f.Channel != "" {
			match["channel"] = string(f.Channel)
		}
		if f.Role != "" {
			match["userRole"] = string(f.Role)
		}
		if f.Language != "" {
			match["language"] = f.Language
		}
		b, _ := json.Marshal([]map[string]string{match})
		conds = append(conds, "variants @> "+arg(string(b))+"::jsonb")
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		conds = append(conds, "(name ILIKE "+p+" OR type ILIKE "+p+
			" OR EXISTS (SELECT 1 FROM jsonb_array_elements(variants) v WHERE v->>'title' ILIKE "+p+"))")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresStore) Find(ctx context.Context, f Filter, p Pagination) ([]*models.Template, int64, error) {
	p = p.Normalize()
	where, args := buildWhere(f)

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notification_templates"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM notification_templates%s ORDER BY updated_at DESC, id LIMIT $%d OFFSET $%d",
		templateColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, p.Limit, p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("find templates: %w", err)
	}
	defer rows.Close()

	items, err := collectTemplates(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func versionParts(v string) (int, int, int) {
	parsed, err := ParseVersion(v)
	if err != nil {
		return 0, 0, 0
	}
	return parsed.Major, parsed.Minor, parsed.Patch
}

func (s *PostgresStore) Create(ctx context.Context, t *models.Template) error {
	variants, err := json.Marshal(t.Variants)
	if err != nil {
		return fmt.Errorf("encode variants: %w", err)
	}
	major, minor, patch := versionParts(t.Version)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_templates (
			id, name, type, category, description, variants, version, version_major, version_minor,
			version_patch, is_active, default_language, created_by, updated_by, created_at, updated_at,
			total_sent, last_used
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		t.ID, t.Name, string(t.Type), string(t.Category), t.Description, string(variants), t.Version,
		major, minor, patch, t.IsActive, t.DefaultLanguage, t.CreatedBy, t.UpdatedBy, t.CreatedAt,
		t.UpdatedAt, t.Usage.TotalSent, nullTime(t.Usage.LastUsed),
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, t *models.Template) error {
	variants, err := json.Marshal(t.Variants)
	if err != nil {
		return fmt.Errorf("encode variants: %w", err)
	}
	major, minor, patch := versionParts(t.Version)

	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_templates SET
			name = $2, category = $3, description = $4, variants = $5, version = $6,
			version_major = $7, version_minor = $8, version_patch = $9, is_active = $10,
			default_language = $11, updated_by = $12, updated_at = $13
		WHERE id = $1`,
		t.ID, t.Name, string(t.Category), t.Description, string(variants), t.Version,
		major, minor, patch, t.IsActive, t.DefaultLanguage, t.UpdatedBy, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if n == 0 {
		return apperrors.NewTemplateIDNotFoundError(t.ID)
	}
	return nil
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notification_templates SET total_sent = total_sent + 1, last_used = $2 WHERE id = $1",
		id, at,
	)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
