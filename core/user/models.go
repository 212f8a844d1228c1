package user

import (
	"strings"
	"time"

	"github.com/trezcool/classledger/core"
)

// Roles
const (
	// Admin
	RoleAdmin      = "admin:"
	RoleAdminOwner = "admin:owner"

	// Agent (facilitator running the class)
	RoleAgent = "agent:"
)

var (
	AdminRoles = []string{RoleAdmin, RoleAdminOwner}
	AgentRoles = []string{RoleAgent}
	AllRoles   = getAllRoles()
)

func getAllRoles() []string {
	all := make([]string, 0, 3)
	all = append(all, AdminRoles...)
	all = append(all, AgentRoles...)
	return all
}

type User struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	Roles     []string  `json:"roles" db:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"` // UTC
}

func (u User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u User) IsAdmin() bool {
	return u.RoleStartsWith(RoleAdmin)
}

// DisplayName is the human readable name shown in audit trails.
func (u User) DisplayName() string {
	if name := core.CleanString(u.Name); name != "" {
		return name
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// Actor converts the user into the core.Actor performing an operation.
func (u User) Actor() core.Actor {
	return core.Actor{ID: u.ID, Name: u.DisplayName(), Elevated: u.IsActive && u.IsAdmin()}
}
