package auth

import (
	"context"
	"errors"
	"fmt"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the actor a token speaks for. ActorID wins over the subject when both are set.
type Claims struct {
	ActorID string `json:"actor_id,omitempty"`
	Role    string `json:"role,omitempty"`
	jwtlib.RegisteredClaims
}

func (c *Claims) Actor() string {
	if c.ActorID != "" {
		return c.ActorID
	}
	return c.Subject
}

// Verifier accepts HS256 tokens signed with the shared secret and, when a JWKS client is
// configured, RS256 tokens whose kid resolves through it.
type Verifier struct {
	secret []byte
	jwks   *JWKSClient
	parser *jwtlib.Parser
}

func NewVerifier(secret string, jwks *JWKSClient) *Verifier {
	methods := []string{}
	if secret != "" {
		methods = append(methods, jwtlib.SigningMethodHS256.Alg())
	}
	if jwks != nil {
		methods = append(methods, jwtlib.SigningMethodRS256.Alg())
	}
	return &Verifier{
		secret: []byte(secret),
		jwks:   jwks,
		parser: jwtlib.NewParser(jwtlib.WithValidMethods(methods)),
	}
}

func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	parsed, err := v.parser.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (any, error) {
		return v.key(ctx, t)
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Actor() == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (v *Verifier) key(ctx context.Context, t *jwtlib.Token) (any, error) {
	switch t.Method.Alg() {
	case jwtlib.SigningMethodHS256.Alg():
		return v.secret, nil
	case jwtlib.SigningMethodRS256.Alg():
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrKeyNotFound
		}
		pub, err := v.jwks.Get(ctx, kid)
		if err != nil {
			return nil, err
		}
		return pub, nil
	}
	return nil, ErrInvalidToken
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(secret))
}
