package models

import "strings"

// User is a member of an account that can own workflows and perform tasks.
type User struct {
	ID           int64  `json:"id"            validate:"required"`
	Email        string `json:"email"         validate:"required,email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	IsActive     bool   `json:"is_active"`
	IsSubscribed bool   `json:"is_subscribed"` // Receives notification emails
}

// DisplayName returns the human readable name used in field values and notifications.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}

	return name
}

// Group is a named set of account users that can be assigned to tasks as a whole.
type Group struct {
	ID    int64   `json:"id"    validate:"required"`
	Name  string  `json:"name"  validate:"required"`
	Users []int64 `json:"users"`
}

// HasUser reports whether the user belongs to the group.
func (g *Group) HasUser(userID int64) bool {
	for _, id := range g.Users {
		if id == userID {
			return true
		}
	}

	return false
}

// Account is the tenant owning users, groups, templates and workflows.
type Account struct {
	ID                int64    `json:"id"                  validate:"required"`
	Name              string   `json:"name"                validate:"required"`
	OwnerID           int64    `json:"owner_id"            validate:"required"`
	Users             []*User  `json:"users"               validate:"dive"`
	Groups            []*Group `json:"groups"              validate:"dive"`
	BillingPlanActive bool     `json:"billing_plan_active"`
	MaxUsers          int      `json:"max_users"` // Zero means unlimited
}

// User finds an active or inactive user of the account by id.
func (a *Account) User(id int64) (*User, bool) {
	for _, user := range a.Users {
		if user.ID == id {
			return user, true
		}
	}

	return nil, false
}

// Group finds a group of the account by id.
func (a *Account) Group(id int64) (*Group, bool) {
	for _, group := range a.Groups {
		if group.ID == id {
			return group, true
		}
	}

	return nil, false
}

// ActiveUsersCount counts users that occupy a paid seat.
func (a *Account) ActiveUsersCount() int {
	count := 0

	for _, user := range a.Users {
		if user.IsActive {
			count++
		}
	}

	return count
}
