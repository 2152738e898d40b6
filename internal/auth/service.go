// Package auth covers accounts and access: registration, credential checks
// with per-identifier throttling, and HS256 bearer tokens carrying the role
// used for chat gating.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"marketsim/internal/storage"
	"marketsim/pkg/types"
)

const (
	tokenTTL        = 24 * time.Hour
	minPasswordLen  = 8
	maxIdentifier   = 254
	maxDisplayName  = 64
	loginBurst      = 5
	loginRefillRate = 0.2 // one attempt regained every 5s
)

var (
	ErrBadCredentials = errors.New("invalid credentials")
	ErrRateLimited    = errors.New("too many login attempts")
	ErrTokenInvalid   = errors.New("invalid token")
)

// ValidationError carries a user-facing message for a rejected registration.
type ValidationError struct{ Message string }

func (e *ValidationError) Error() string { return e.Message }

// Identity is the authenticated principal extracted from a bearer token.
type Identity struct {
	UserID      string
	Role        types.Role
	DisplayName string
}

// RegisterParams are the inputs to account creation.
type RegisterParams struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// Service owns account state and token issuance.
type Service struct {
	users   *UserStore
	hasher  PasswordHasher
	limiter *LoginLimiter
	secret  []byte
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds the auth service. secret signs HS256 tokens and must be
// at least 32 bytes; config validation enforces that upstream.
func NewService(ctx context.Context, docs storage.DocStore, secret []byte, logger *slog.Logger) (*Service, error) {
	users, err := NewUserStore(ctx, docs)
	if err != nil {
		return nil, err
	}
	return &Service{
		users:   users,
		hasher:  NewHasher(),
		limiter: NewLoginLimiter(loginBurst, loginRefillRate),
		secret:  secret,
		logger:  logger.With("component", "auth"),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register creates a regular user account.
func (s *Service) Register(ctx context.Context, p RegisterParams) (types.User, error) {
	return s.register(ctx, p, types.RoleUser)
}

func (s *Service) register(ctx context.Context, p RegisterParams, role types.Role) (types.User, error) {
	p.Email = strings.TrimSpace(p.Email)
	p.Username = strings.TrimSpace(p.Username)
	p.DisplayName = strings.TrimSpace(p.DisplayName)

	if err := validateRegistration(p); err != nil {
		return types.User{}, err
	}

	hash, err := s.hasher.Hash(p.Password)
	if err != nil {
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	display := p.DisplayName
	if display == "" {
		if p.Username != "" {
			display = p.Username
		} else {
			display = p.Email[:strings.Index(p.Email, "@")]
		}
	}

	u := types.User{
		UserID:       uuid.NewString(),
		Email:        p.Email,
		Username:     p.Username,
		DisplayName:  display,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return types.User{}, err
	}

	s.logger.Info("user registered", "user_id", u.UserID, "role", string(u.Role))
	return u, nil
}

func validateRegistration(p RegisterParams) error {
	if p.Email == "" && p.Username == "" {
		return &ValidationError{Message: "email or username required"}
	}
	if p.Email != "" {
		at := strings.Index(p.Email, "@")
		if at <= 0 || at == len(p.Email)-1 || len(p.Email) > maxIdentifier {
			return &ValidationError{Message: "malformed email"}
		}
	}
	if p.Username != "" {
		if len(p.Username) < 3 || len(p.Username) > maxDisplayName {
			return &ValidationError{Message: "username must be 3-64 characters"}
		}
		for _, r := range p.Username {
			ok := r == '_' || r == '-' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !ok {
				return &ValidationError{Message: "username may contain letters, digits, _ and -"}
			}
		}
	}
	if len(p.DisplayName) > maxDisplayName {
		return &ValidationError{Message: "display name too long"}
	}
	if len(p.Password) < minPasswordLen {
		return &ValidationError{Message: "password must be at least 8 characters"}
	}
	return nil
}

// Login checks credentials and returns a signed bearer token. Attempts are
// throttled per identifier before the password check so hammering a known
// account burns its bucket, not CPU.
func (s *Service) Login(ctx context.Context, identifier, password string) (string, types.User, error) {
	identifier = strings.TrimSpace(identifier)
	if !s.limiter.Allow(strings.ToLower(identifier)) {
		s.logger.Warn("login throttled", "identifier", identifier)
		return "", types.User{}, ErrRateLimited
	}

	u, ok := s.users.ByIdentifier(identifier)
	if !ok || !s.hasher.Verify(u.PasswordHash, password) {
		return "", types.User{}, ErrBadCredentials
	}

	token, err := s.IssueToken(u)
	if err != nil {
		return "", types.User{}, err
	}
	return token, u, nil
}

// IssueToken signs a fresh HS256 token for u.
func (s *Service) IssueToken(u types.User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  u.UserID,
		"role": string(u.Role),
		"name": u.DisplayName,
		"iat":  now.Unix(),
		"exp":  now.Add(tokenTTL).Unix(),
		"jti":  uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a bearer token and resolves its identity. The role
// is read from the stored account, not the claim, so a role change takes
// effect without waiting out old tokens.
func (s *Service) VerifyToken(tokenString string) (Identity, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return Identity{}, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrTokenInvalid
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, ErrTokenInvalid
	}

	u, ok := s.users.ByID(sub)
	if !ok {
		return Identity{}, ErrTokenInvalid
	}
	return Identity{UserID: u.UserID, Role: u.Role, DisplayName: u.DisplayName}, nil
}

// Profile returns the account for id.
func (s *Service) Profile(id string) (types.User, error) {
	u, ok := s.users.ByID(id)
	if !ok {
		return types.User{}, ErrUserNotFound
	}
	return u, nil
}

// DisplayName resolves a user id to its display name, falling back to the
// id itself for principals without an account record (bots).
func (s *Service) DisplayName(id string) string {
	if u, ok := s.users.ByID(id); ok {
		return u.DisplayName
	}
	return id
}

// RecordResult folds a completed session's return into the owner's stats.
// Unknown owners (bot sessions) are ignored.
func (s *Service) RecordResult(ctx context.Context, userID string, ret float64) {
	u, ok := s.users.ByID(userID)
	if !ok {
		return
	}

	st := u.Stats
	if st.GamesPlayed == 0 || ret > st.BestReturn {
		st.BestReturn = ret
	}
	st.AverageReturn = (st.AverageReturn*float64(st.GamesPlayed) + ret) / float64(st.GamesPlayed+1)
	st.GamesPlayed++
	u.Stats = st

	if err := s.users.Update(ctx, u); err != nil {
		s.logger.Error("record result", "user_id", userID, "error", err)
	}
}

// BootstrapAccount ensures a privileged account exists for the configured
// identifier, creating it on first boot. Existing accounts are promoted to
// the given role if needed but their password is left alone.
func (s *Service) BootstrapAccount(ctx context.Context, identifier, password string, role types.Role) error {
	if identifier == "" || password == "" {
		return nil
	}

	if u, ok := s.users.ByIdentifier(identifier); ok {
		if u.Role == role {
			return nil
		}
		u.Role = role
		if err := s.users.Update(ctx, u); err != nil {
			return fmt.Errorf("promote %s: %w", identifier, err)
		}
		s.logger.Info("account promoted", "user_id", u.UserID, "role", string(role))
		return nil
	}

	p := RegisterParams{Password: password}
	if strings.Contains(identifier, "@") {
		p.Email = identifier
	} else {
		p.Username = identifier
	}
	if _, err := s.register(ctx, p, role); err != nil {
		return fmt.Errorf("bootstrap %s: %w", identifier, err)
	}
	return nil
}
