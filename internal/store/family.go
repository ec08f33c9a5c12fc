package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/famevents/internal/model"
)

// FamilyStore owns families and their memberships. It is the membership
// oracle consulted by the event service.
type FamilyStore struct {
	db *sql.DB
}

func NewFamilyStore(db *sql.DB) *FamilyStore {
	return &FamilyStore{db: db}
}

func scanFamily(scanner interface{ Scan(...any) error }) (*model.Family, error) {
	var f model.Family
	err := scanner.Scan(&f.ID, &f.Name, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func scanFamilyMember(scanner interface{ Scan(...any) error }) (*model.FamilyMember, error) {
	var m model.FamilyMember
	var role string
	var deletedAt sql.NullTime
	err := scanner.Scan(&m.ID, &m.FamilyID, &m.UserID, &role, &deletedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Role = model.Role(role)
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	return &m, nil
}

const familyCols = `id, name, created_at, updated_at`
const familyMemberCols = `id, family_id, user_id, role, deleted_at, created_at, updated_at`

func (s *FamilyStore) Create(ctx context.Context, name string) (*model.Family, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO families (id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *FamilyStore) GetByID(ctx context.Context, id string) (*model.Family, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+familyCols+` FROM families WHERE id = ?`, id)
	f, err := scanFamily(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	return f, nil
}

func (s *FamilyStore) AddMember(ctx context.Context, familyID, userID string, role model.Role) (*model.FamilyMember, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO family_members (family_id, user_id, role) VALUES (?, ?, ?)`,
		familyID, userID, string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+familyMemberCols+` FROM family_members WHERE id = ?`, id)
	return scanFamilyMember(row)
}

// RemoveMember soft-deletes the membership. The row is kept so history
// stays attributable.
func (s *FamilyStore) RemoveMember(ctx context.Context, familyID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE family_members SET deleted_at = ? WHERE family_id = ? AND user_id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), familyID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// ActiveMember returns the user's live membership in the family, or nil if
// there is none.
func (s *FamilyStore) ActiveMember(ctx context.Context, familyID, userID string) (*model.FamilyMember, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+familyMemberCols+` FROM family_members
		 WHERE family_id = ? AND user_id = ? AND deleted_at IS NULL
		 ORDER BY id DESC LIMIT 1`,
		familyID, userID,
	)
	m, err := scanFamilyMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *FamilyStore) ListMembers(ctx context.Context, familyID string) ([]model.FamilyMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+familyMemberCols+` FROM family_members
		 WHERE family_id = ? AND deleted_at IS NULL
		 ORDER BY created_at ASC, id ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.FamilyMember
	for rows.Next() {
		m, err := scanFamilyMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *FamilyStore) UpdateMemberRole(ctx context.Context, familyID, userID string, role model.Role) (*model.FamilyMember, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE family_members SET role = ? WHERE family_id = ? AND user_id = ? AND deleted_at IS NULL`,
		string(role), familyID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("update member role: %w", err)
	}
	return s.ActiveMember(ctx, familyID, userID)
}
