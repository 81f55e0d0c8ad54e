package domain

const (
	// MaxEmailLength bounds the email column.
	MaxEmailLength = 120
	// MaxNameLength bounds the display name column.
	MaxNameLength = 20
)

// User represents a registered account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Name         string
	IsActive     bool
}

// PublicUser is the externally visible projection of a User.
// It never carries the password hash.
type PublicUser struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	IsActive bool   `json:"is_active"`
}

// Public returns the serializable view of the user.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Email:    u.Email,
		Name:     u.Name,
		IsActive: u.IsActive,
	}
}
