package gatekeeper

import (
	"fmt"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

const bearerScheme = "Bearer "

// ClaimsExtractor turns a raw authorization header value into an Identity.
// It performs no network calls.
//
// Without a Keyfunc the extractor only decodes the claims payload; signature
// and expiry are then the responsibility of the identity provider's trust
// boundary in front of this process (an API gateway validating the token
// before it ever reaches us). Deployments without such a boundary must
// install a Keyfunc via WithKeyfunc, which upgrades extraction to full
// verification.
type ClaimsExtractor struct {
	groupsClaim   string
	emailClaim    string
	usernameClaim string
	keyfunc       jwtv5.Keyfunc
	validMethods  []string
	leeway        time.Duration
}

// ClaimsOption configures a ClaimsExtractor.
type ClaimsOption func(*ClaimsExtractor)

// NewClaimsExtractor returns an extractor with the provider's default claim
// names: "sub" for the principal, "cognito:groups" for roles,
// "email" and "cognito:username".
func NewClaimsExtractor(opts ...ClaimsOption) *ClaimsExtractor {
	x := &ClaimsExtractor{
		groupsClaim:   "cognito:groups",
		emailClaim:    "email",
		usernameClaim: "cognito:username",
		leeway:        30 * time.Second,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// WithGroupsClaim overrides the claim carrying role memberships.
func WithGroupsClaim(name string) ClaimsOption {
	return func(x *ClaimsExtractor) { x.groupsClaim = name }
}

// WithEmailClaim overrides the claim carrying the caller's email.
func WithEmailClaim(name string) ClaimsOption {
	return func(x *ClaimsExtractor) { x.emailClaim = name }
}

// WithUsernameClaim overrides the claim carrying the caller's username.
func WithUsernameClaim(name string) ClaimsOption {
	return func(x *ClaimsExtractor) { x.usernameClaim = name }
}

// WithKeyfunc enables full token verification (signature, exp/nbf with
// leeway) using the given key resolver. Valid signing method names restrict
// which algorithms are accepted.
func WithKeyfunc(kf jwtv5.Keyfunc, validMethods ...string) ClaimsOption {
	return func(x *ClaimsExtractor) {
		x.keyfunc = kf
		x.validMethods = validMethods
	}
}

// WithLeeway sets the clock-skew tolerance used during verification.
func WithLeeway(d time.Duration) ClaimsOption {
	return func(x *ClaimsExtractor) { x.leeway = d }
}

// Extract parses the authorization header value into an Identity. The
// "Bearer " scheme prefix is stripped case-insensitively when present; a bare
// token is accepted as-is. Failures are always ErrUnauthenticated; the
// caller never learns whether the token was missing, undecodable, or had no
// subject.
func (x *ClaimsExtractor) Extract(rawHeaderValue string) (*Identity, error) {
	raw := strings.TrimSpace(rawHeaderValue)
	if raw == "" {
		return nil, fmt.Errorf("%w: no credential supplied", ErrUnauthenticated)
	}
	if len(raw) > len(bearerScheme) && strings.EqualFold(raw[:len(bearerScheme)], bearerScheme) {
		raw = strings.TrimSpace(raw[len(bearerScheme):])
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: empty credential", ErrUnauthenticated)
	}

	claims, err := x.decode(raw)
	if err != nil {
		return nil, err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrUnauthenticated)
	}
	id := &Identity{PrincipalID: sub, Roles: parseGroups(claims[x.groupsClaim])}
	id.Email, _ = claims[x.emailClaim].(string)
	id.Username, _ = claims[x.usernameClaim].(string)
	return id, nil
}

func (x *ClaimsExtractor) decode(raw string) (jwtv5.MapClaims, error) {
	if x.keyfunc != nil {
		opts := []jwtv5.ParserOption{jwtv5.WithLeeway(x.leeway)}
		if len(x.validMethods) > 0 {
			opts = append(opts, jwtv5.WithValidMethods(x.validMethods))
		}
		tok, err := jwtv5.Parse(raw, x.keyfunc, opts...)
		if err != nil || !tok.Valid {
			return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
		}
		claims, ok := tok.Claims.(jwtv5.MapClaims)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected claims type", ErrUnauthenticated)
		}
		return claims, nil
	}
	claims := jwtv5.MapClaims{}
	if _, _, err := jwtv5.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: undecodable token", ErrUnauthenticated)
	}
	return claims, nil
}

// parseGroups accepts the group claim in the shapes providers emit it:
// a JSON array, a string slice, or a single comma/space separated string.
// A missing or empty claim yields an empty role set, which downstream
// authorization treats as deny-all.
func parseGroups(v any) []Role {
	roles := make([]Role, 0, 4)
	switch g := v.(type) {
	case []string:
		for _, s := range g {
			if s = strings.TrimSpace(s); s != "" {
				roles = append(roles, Role(s))
			}
		}
	case []any:
		for _, item := range g {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					roles = append(roles, Role(s))
				}
			}
		}
	case string:
		sep := func(r rune) bool { return r == ',' || r == ' ' || r == '\t' }
		for _, s := range strings.FieldsFunc(g, sep) {
			roles = append(roles, Role(s))
		}
	}
	return roles
}
