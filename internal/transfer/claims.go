package transfer

import "github.com/golang-jwt/jwt/v5"

type CustomClaims struct {
	UserID string `json:"user_id"`
	// Service marks internal tokens minted for collaborator calls,
	// e.g. the follow-up loop calling the send-message endpoint.
	Service string `json:"service,omitempty"`
	jwt.RegisteredClaims
}
