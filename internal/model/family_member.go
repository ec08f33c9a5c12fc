package model

import "time"

type Role string

const (
	RoleParent Role = "PARENT"
	RoleChild  Role = "CHILD"
)

type Family struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type FamilyMember struct {
	ID        int64      `json:"id"`
	FamilyID  string     `json:"familyId"`
	UserID    string     `json:"userId"`
	Role      Role       `json:"role"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Active reports whether the membership has not been soft-deleted.
func (m FamilyMember) Active() bool {
	return m.DeletedAt == nil
}
