package auth

import (
	"fmt"
	"strings"

	"backend-tagmap/internal/domain"
)

// Verifier turns a bearer credential into a Caller.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyCaller returns an AuthenticationError for a missing or invalid
// credential. A verified caller is always logged in.
func (v *Verifier) VerifyCaller(credential string) (domain.Caller, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return domain.Caller{}, fmt.Errorf("%w: missing credential", domain.ErrAuthentication)
	}
	claims, err := parseToken(v.secret, credential)
	if err != nil {
		return domain.Caller{}, err
	}
	return domain.Caller{UID: claims.UserID, LoggedIn: true}, nil
}
