package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"easybaby/backend/internal/session/domain"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// sessionRow maps the refresh_sessions table.
type sessionRow struct {
	ID         string     `gorm:"column:id;primaryKey"`
	SubjectID  string     `gorm:"column:subject_id"`
	FamilyID   string     `gorm:"column:family_id"`
	IssuedAt   time.Time  `gorm:"column:created_at"`
	ExpiresAt  time.Time  `gorm:"column:expires_at"`
	LastUsedAt *time.Time `gorm:"column:last_used_at"`
	IPAddress  *string    `gorm:"column:ip_address"`
	UserAgent  *string    `gorm:"column:user_agent"`
	IsRevoked  bool       `gorm:"column:is_revoked"`
}

func (sessionRow) TableName() string { return "refresh_sessions" }

// PostgresRepository persists sessions in Postgres through gorm.
type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository returns a session repository that uses the given gorm handle for persistence.
func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var row sessionRow
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rowToDomain(&row), nil
}

// Insert persists s. The session must have ID set.
func (r *PostgresRepository) Insert(ctx context.Context, s *domain.Session) error {
	row := domainToRow(s)
	err := r.db.WithContext(ctx).Create(&row).Error
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return err
	}
	return nil
}

// UpdateWhere issues one UPDATE ... WHERE and returns the affected row count.
func (r *PostgresRepository) UpdateWhere(ctx context.Context, p Predicate, patch Patch) (int64, error) {
	if p.IsEmpty() {
		return 0, ErrEmptyPredicate
	}
	if patch.IsEmpty() {
		return 0, ErrEmptyPatch
	}
	set := make(map[string]any, 2)
	if patch.Revoke {
		set["is_revoked"] = true
	}
	if patch.LastUsedAt != nil {
		set["last_used_at"] = *patch.LastUsedAt
	}
	res := applyPredicate(r.db.WithContext(ctx).Model(&sessionRow{}), p).Updates(set)
	return res.RowsAffected, res.Error
}

// DeleteWhere issues one DELETE ... WHERE and returns the affected row count.
func (r *PostgresRepository) DeleteWhere(ctx context.Context, p Predicate) (int64, error) {
	if p.IsEmpty() {
		return 0, ErrEmptyPredicate
	}
	res := applyPredicate(r.db.WithContext(ctx), p).Delete(&sessionRow{})
	return res.RowsAffected, res.Error
}

// FindWhere returns one ordered page of matching sessions and the full match count.
func (r *PostgresRepository) FindWhere(ctx context.Context, p Predicate, order Order, offset, limit int) ([]*domain.Session, int64, error) {
	if !ValidOrderField(order.Field) {
		return nil, 0, ErrInvalidOrder
	}
	var total int64
	if err := applyPredicate(r.db.WithContext(ctx).Model(&sessionRow{}), p).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 || total == 0 {
		return []*domain.Session{}, total, nil
	}
	if offset < 0 {
		offset = 0
	}
	var rows []sessionRow
	err := applyPredicate(r.db.WithContext(ctx), p).
		Order(clause.OrderByColumn{Column: clause.Column{Name: order.Field}, Desc: order.Desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: order.Desc}).
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	out := make([]*domain.Session, len(rows))
	for i := range rows {
		out[i] = rowToDomain(&rows[i])
	}
	return out, total, nil
}

func applyPredicate(q *gorm.DB, p Predicate) *gorm.DB {
	if p.ID != "" {
		q = q.Where("id = ?", p.ID)
	}
	if p.SubjectID != "" {
		q = q.Where("subject_id = ?", p.SubjectID)
	}
	if p.FamilyID != "" {
		q = q.Where("family_id = ?", p.FamilyID)
	}
	if p.Revoked != nil {
		q = q.Where("is_revoked = ?", *p.Revoked)
	}
	if p.ExpiresBefore != nil {
		q = q.Where("expires_at < ?", *p.ExpiresBefore)
	}
	if p.IPContains != "" {
		q = q.Where("ip_address ILIKE ?", likePattern(p.IPContains))
	}
	if p.UserAgentContains != "" {
		q = q.Where("user_agent ILIKE ?", likePattern(p.UserAgentContains))
	}
	return q
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern builds a substring pattern with LIKE metacharacters in s escaped.
func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func rowToDomain(row *sessionRow) *domain.Session {
	return &domain.Session{
		ID:         row.ID,
		SubjectID:  row.SubjectID,
		FamilyID:   row.FamilyID,
		IssuedAt:   row.IssuedAt.UTC(),
		ExpiresAt:  row.ExpiresAt.UTC(),
		LastUsedAt: utcPtr(row.LastUsedAt),
		IPAddress:  row.IPAddress,
		UserAgent:  row.UserAgent,
		IsRevoked:  row.IsRevoked,
	}
}

func domainToRow(s *domain.Session) sessionRow {
	return sessionRow{
		ID:         s.ID,
		SubjectID:  s.SubjectID,
		FamilyID:   s.FamilyID,
		IssuedAt:   s.IssuedAt,
		ExpiresAt:  s.ExpiresAt,
		LastUsedAt: s.LastUsedAt,
		IPAddress:  s.IPAddress,
		UserAgent:  s.UserAgent,
		IsRevoked:  s.IsRevoked,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
