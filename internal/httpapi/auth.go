package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"vaskito/backend/internal/domain"
)

const (
	userStoreTimeout  = 3 * time.Second
	tokenIssuer       = "vaskito"
	minUsernameLength = 4
	minPasswordLength = 6
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errUnknownOperator    = errors.New("operator not found")
	errUsernameTaken      = errors.New("username already exists")
)

// AuthManager signs route tokens and checks passwords against a cache of
// accounts mirrored from the UserStore. Only bcrypt hashes are accepted.
type AuthManager struct {
	mu         sync.RWMutex
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	userStore  UserStore
	accounts   map[string]account
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type account struct {
	hash    string
	role    string
	active  bool
	created time.Time
}

func (acc account) operator(username string) domain.OperatorUser {
	return domain.OperatorUser{Username: username, Role: acc.role, Active: acc.active, CreatedAt: acc.created}
}

type routeClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}

	// An empty PIN leaves no hash behind, so every undo by an operator fails.
	var pinHash string
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hashed, err := hashPassword(pin); err == nil {
			pinHash = hashed
		}
	}

	manager := &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: pinHash,
		userStore:  userStore,
		accounts:   make(map[string]account),
	}
	manager.refresh(context.Background())
	return manager
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Login re-reads the user store first so accounts created by another
// process can sign in.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.refresh(ctx)
	username := normalizeUsername(req.Username)
	acc, ok := a.lookup(username)
	if !ok || !verifyPassword(acc.hash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !acc.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, acc.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        acc.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &routeClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := routeClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateManagerPIN gates operator undo.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	return verifyPassword(a.managerPIN, strings.TrimSpace(pin))
}

func (a *AuthManager) CreateOperator(ctx context.Context, req domain.OperatorCreateRequest) (domain.OperatorUser, error) {
	a.refresh(ctx)
	username := normalizeUsername(req.Username)
	if len(username) < minUsernameLength {
		return domain.OperatorUser{}, fmt.Errorf("username must be at least %d characters", minUsernameLength)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.OperatorUser{}, errors.New("username must not contain spaces")
	}
	hash, err := newPasswordHash(req.Password)
	if err != nil {
		return domain.OperatorUser{}, err
	}
	if _, taken := a.lookup(username); taken {
		return domain.OperatorUser{}, errUsernameTaken
	}

	acc := account{hash: hash, role: domain.RoleOperator, active: true, created: time.Now().UTC()}
	if a.userStore != nil {
		storeCtx, cancel := context.WithTimeout(ctx, userStoreTimeout)
		defer cancel()
		if err := a.userStore.CreateUser(storeCtx, domain.UserAccount{
			Username:  username,
			Password:  hash,
			Role:      acc.role,
			Active:    acc.active,
			CreatedAt: acc.created,
		}); err != nil {
			return domain.OperatorUser{}, err
		}
	}

	a.remember(username, acc)
	return acc.operator(username), nil
}

// ResetOperatorPassword replaces an operator's password. Admin accounts
// are not reachable through it.
func (a *AuthManager) ResetOperatorPassword(ctx context.Context, username string, password string) (domain.OperatorUser, error) {
	a.refresh(ctx)
	username = normalizeUsername(username)
	acc, ok := a.lookup(username)
	if !ok || acc.role != domain.RoleOperator {
		return domain.OperatorUser{}, errUnknownOperator
	}
	hash, err := newPasswordHash(password)
	if err != nil {
		return domain.OperatorUser{}, err
	}

	if a.userStore != nil {
		storeCtx, cancel := context.WithTimeout(ctx, userStoreTimeout)
		defer cancel()
		if err := a.userStore.UpdateUserPassword(storeCtx, username, hash); err != nil {
			return domain.OperatorUser{}, err
		}
	}

	acc.hash = hash
	a.remember(username, acc)
	log.Printf("[auth] password reset for operator=%s", username)
	return acc.operator(username), nil
}

func (a *AuthManager) ListOperators(ctx context.Context) []domain.OperatorUser {
	a.refresh(ctx)
	a.mu.RLock()
	result := make([]domain.OperatorUser, 0, len(a.accounts))
	for username, acc := range a.accounts {
		if acc.role == domain.RoleOperator {
			result = append(result, acc.operator(username))
		}
	}
	a.mu.RUnlock()
	slices.SortFunc(result, func(x, y domain.OperatorUser) int {
		return strings.Compare(x.Username, y.Username)
	})
	return result
}

func (a *AuthManager) lookup(username string) (account, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acc, ok := a.accounts[username]
	return acc, ok
}

func (a *AuthManager) remember(username string, acc account) {
	a.mu.Lock()
	a.accounts[username] = acc
	a.mu.Unlock()
}

// refresh mirrors the user store into the cache. A row whose password is
// not a bcrypt hash is cached without one, so it cannot sign in.
func (a *AuthManager) refresh(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, userStoreTimeout)
	defer cancel()

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		log.Printf("[auth] WARN: listing users failed, keeping cached accounts: %v", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, user := range users {
		username := normalizeUsername(user.Username)
		if username == "" {
			continue
		}
		hash := user.Password
		if !isPasswordHash(hash) {
			if _, known := a.accounts[username]; !known {
				log.Printf("[auth] WARN: account=%s has no bcrypt password and cannot sign in until reset", username)
			}
			hash = ""
		}
		a.accounts[username] = account{
			hash:    hash,
			role:    user.Role,
			active:  user.Active,
			created: user.CreatedAt,
		}
	}
}

func newPasswordHash(password string) (string, error) {
	if len(strings.TrimSpace(password)) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return "", errors.New("failed to hash password")
	}
	return hash, nil
}

func verifyPassword(hash string, input string) bool {
	if !isPasswordHash(hash) || strings.TrimSpace(input) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func isPasswordHash(value string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
