package ws

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// verifyBearer checks an HS256 bearer token against secret. An empty
// secret is not special-cased here; handleJudge skips the gate when
// AuthSecret is unset.
func verifyBearer(raw, secret string) error {
	if raw == "" {
		return errors.New("missing bearer token")
	}
	_, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return errors.New("token expired")
		}
		return fmt.Errorf("invalid token: %w", err)
	}
	return nil
}
