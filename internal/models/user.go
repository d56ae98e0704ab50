package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleOrganizer Role = "organizer"
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        string    `bun:"id,pk" json:"id"`
	Email     string    `bun:"email,unique,notnull" json:"email"`
	Name      string    `bun:"name,notnull" json:"name"`
	Role      Role      `bun:"role,notnull" json:"role"`
	Address   string    `bun:"address,nullzero" json:"address,omitempty"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"createdAt"`
}
