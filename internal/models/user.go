package models

// Identity is what the authentication provider vouches for once a token is
// validated.
type Identity struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
}
