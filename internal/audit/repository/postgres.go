package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"easybaby/backend/internal/audit/domain"
)

type auditRow struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    *string   `gorm:"column:user_id"`
	Action    string    `gorm:"column:action"`
	Resource  string    `gorm:"column:resource"`
	IP        *string   `gorm:"column:ip"`
	Metadata  *string   `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (auditRow) TableName() string { return "audit_logs" }

type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository returns an audit log repository that uses the given gorm handle for persistence.
func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log to the database. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	row := auditRow{
		ID:        a.ID,
		UserID:    nullable(a.UserID),
		Action:    a.Action,
		Resource:  a.Resource,
		IP:        nullable(a.IP),
		Metadata:  nullable(a.Metadata),
		CreatedAt: a.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// ListByUser returns audit logs for the given user, paginated by limit and offset.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.AuditLog, error) {
	var rows []auditRow
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.AuditLog, len(rows))
	for i := range rows {
		out[i] = rowToDomain(&rows[i])
	}
	return out, nil
}

func rowToDomain(row *auditRow) *domain.AuditLog {
	return &domain.AuditLog{
		ID:        row.ID,
		UserID:    deref(row.UserID),
		Action:    row.Action,
		Resource:  row.Resource,
		IP:        deref(row.IP),
		Metadata:  deref(row.Metadata),
		CreatedAt: row.CreatedAt.UTC(),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
