package casefs

import "fmt"

// Identity is the caller as resolved by the identity provider.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Validate checks that the identity can own files.
func (id Identity) Validate() error {
	if id.UserID == "" {
		return fmt.Errorf("%w: no user", ErrAuth)
	}
	if err := ValidateName(id.UserID); err != nil {
		return fmt.Errorf("%w: user id: %v", ErrAuth, err)
	}
	return nil
}
