// Package ticket verifies signed workspace join tickets and enforces their
// single-use semantics.
//
// Tickets are HS256 JWTs minted by the platform. The verifier only checks
// them; issuing lives in another service. A consumed ticket id stays bound
// to the (user, workspace) pair that first used it until expiry, which lets
// the same client replay its ticket across reloads and reconnects while
// blocking everyone else.
package ticket

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jwt5 "github.com/golang-jwt/jwt/v5"

	"github.com/blockwise/colabd/internal/colab/permission"
)

// Audience is the required aud claim.
const Audience = "colab-backend"

// devSecret backs local development only. ResolveSecret never returns it
// in production.
const devSecret = "colab-dev-secret-change-me"

const maxIDLen = 128

// Closed set of rejection reasons surfaced to the client.
var (
	ErrMissing           = errors.New("missing ticket")
	ErrInvalid           = errors.New("invalid ticket")
	ErrExpired           = errors.New("expired ticket")
	ErrWorkspaceMismatch = errors.New("workspace mismatch")
	ErrUserMismatch      = errors.New("user mismatch")
	ErrReplay            = errors.New("ticket already used")
)

// Reason maps a verification error to its wire reason string.
func Reason(err error) string {
	for _, sentinel := range []error{ErrMissing, ErrExpired, ErrWorkspaceMismatch, ErrUserMismatch, ErrReplay, ErrInvalid} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ErrInvalid.Error()
}

// Claims is the join-ticket payload.
type Claims struct {
	WorkspaceID string `json:"workspaceId"`
	Username    string `json:"username,omitempty"`
	Role        string `json:"role,omitempty"`
	jwt5.RegisteredClaims
}

// Admission is the identity extracted from a valid ticket.
type Admission struct {
	UserID      string
	WorkspaceID string
	Username    string
	Role        permission.Role
}

// ResolveSecret picks the signing secret: the primary env value, then the
// fallback, then the dev value outside production. Returns "" when
// production has no secret configured; a verifier built from "" refuses
// every admission.
func ResolveSecret(primary, fallback string, production bool) string {
	switch {
	case primary != "":
		return primary
	case fallback != "":
		return fallback
	case !production:
		return devSecret
	default:
		return ""
	}
}

type consumedEntry struct {
	userID      string
	workspaceID string
	exp         time.Time
}

// Verifier validates tickets and tracks consumed ticket ids.
type Verifier struct {
	secret []byte

	mu       sync.Mutex
	consumed map[string]consumedEntry

	now func() time.Time
}

// NewVerifier builds a verifier for the given signing secret. An empty
// secret is allowed and refuses every admission.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:   []byte(secret),
		consumed: make(map[string]consumedEntry),
		now:      time.Now,
	}
}

// Verify validates a bearer ticket and applies the replay rule.
// wantWorkspace and wantUser are the optional workspace/userId fields of
// the auth frame; when non-empty they must equal the ticket claims.
func (v *Verifier) Verify(raw, wantWorkspace, wantUser string) (*Admission, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrMissing
	}
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalid)
	}

	claims := &Claims{}
	token, err := jwt5.ParseWithClaims(
		raw,
		claims,
		func(t *jwt5.Token) (any, error) {
			if _, ok := t.Method.(*jwt5.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.secret, nil
		},
		jwt5.WithAudience(Audience),
		jwt5.WithValidMethods([]string{"HS256"}),
		jwt5.WithExpirationRequired(),
		jwt5.WithTimeFunc(func() time.Time { return v.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt5.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !token.Valid {
		return nil, ErrInvalid
	}

	sub := claims.Subject
	ws := claims.WorkspaceID
	switch {
	case sub == "" || len(sub) > maxIDLen:
		return nil, fmt.Errorf("%w: bad subject", ErrInvalid)
	case ws == "" || len(ws) > maxIDLen:
		return nil, fmt.Errorf("%w: bad workspace id", ErrInvalid)
	case claims.ID == "":
		return nil, fmt.Errorf("%w: missing jti", ErrInvalid)
	}

	if wantWorkspace != "" && wantWorkspace != ws {
		return nil, ErrWorkspaceMismatch
	}
	if wantUser != "" && wantUser != sub {
		return nil, ErrUserMismatch
	}

	if err := v.consume(claims.ID, sub, ws, claims.ExpiresAt.Time); err != nil {
		return nil, err
	}

	return &Admission{
		UserID:      sub,
		WorkspaceID: ws,
		Username:    claims.Username,
		Role:        permission.ParseRole(claims.Role),
	}, nil
}

// consume records a ticket id as used, pruning expired entries first so a
// stale entry can never block a fresh ticket that reuses its id. The same
// (user, workspace) pair may re-consume its own id until expiry.
func (v *Verifier) consume(jti, userID, workspaceID string, exp time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	for id, e := range v.consumed {
		if !e.exp.After(now) {
			delete(v.consumed, id)
		}
	}

	if e, ok := v.consumed[jti]; ok && (e.userID != userID || e.workspaceID != workspaceID) {
		return ErrReplay
	}
	v.consumed[jti] = consumedEntry{userID: userID, workspaceID: workspaceID, exp: exp}
	return nil
}

// ConsumedCount reports the number of live consumed-ticket entries.
func (v *Verifier) ConsumedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.consumed)
}
