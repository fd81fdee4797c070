package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	VetIDKey     contextKey = "vet_id"
	ClientIDKey  contextKey = "client_id"
)

const (
	RoleAdmin  = "admin"
	RoleVet    = "vet"
	RoleClient = "client"
)

// Claims are the bearer token claims. VetID and ClientID link the subject to
// a veterinarian or client record held by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Roles    []string `json:"roles"`
	VetID    string   `json:"vet_id,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey switches validation to HS256 with a shared secret.
	SigningKey []byte
	Skipper    func(c echo.Context) bool
}

// JWKSKey is a single RSA key of a JWKS document.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// JWKSCache keeps the keys of a JWKS endpoint for ttl and refetches on an
// unknown kid.
type JWKSCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	jwksURL   string
	ttl       time.Duration
	fetchedAt time.Time
	client    *http.Client
}

func NewJWKSCache(jwksURL string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		keys:    make(map[string]*rsa.PublicKey),
		jwksURL: jwksURL,
		ttl:     ttl,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	expired := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}
	if err := c.fetch(); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
	}
	return key, nil
}

func (c *JWKSCache) fetch() error {
	resp, err := c.client.Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.jwksURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKSResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decoding JWKS response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func parseRSAPublicKey(k JWKSKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

const defaultJWKSCacheTTL = 5 * time.Minute

func jwksKeyFunc(jwksURL string) jwt.Keyfunc {
	cache := NewJWKSCache(jwksURL, defaultJWKSCacheTTL)
	return func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return cache.GetKey(kid)
	}
}

// JWTMiddleware validates the bearer token and stores the identity on the
// request context. Without an explicit JWKS URL the issuer's discovery
// document is consulted.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var keyFunc jwt.Keyfunc
	methods := []string{"RS256"}
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
		methods = []string{"HS256"}
	} else {
		jwksURL := cfg.JWKSURL
		if jwksURL == "" && cfg.Issuer != "" {
			if provider, err := NewOIDCProvider(cfg.Issuer); err == nil {
				jwksURL = provider.JWKSURI
			}
		}
		keyFunc = jwksKeyFunc(jwksURL)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenStr), claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx, err := withIdentity(c.Request().Context(), claims.Subject, claims.Roles, claims.VetID, claims.ClientID)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// Development identity headers.
const (
	DevUserHeader   = "X-User-ID"
	DevVetHeader    = "X-Vet-ID"
	DevClientHeader = "X-Client-ID"
)

// DevAuthMiddleware trusts identity headers instead of a token. A request with
// no headers acts as an admin with no linked vet or client.
func DevAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			user := h.Get(DevUserHeader)
			vetID, clientID := h.Get(DevVetHeader), h.Get(DevClientHeader)

			var roles []string
			if vetID != "" {
				roles = append(roles, RoleVet)
			}
			if clientID != "" {
				roles = append(roles, RoleClient)
			}
			if len(roles) == 0 {
				roles = []string{RoleAdmin}
			}
			if user == "" {
				user = "dev-user"
			}

			ctx, err := withIdentity(c.Request().Context(), user, roles, vetID, clientID)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func withIdentity(ctx context.Context, userID string, roles []string, vetID, clientID string) (context.Context, error) {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	if vetID != "" {
		id, err := uuid.Parse(vetID)
		if err != nil {
			return nil, fmt.Errorf("invalid vet_id claim")
		}
		ctx = context.WithValue(ctx, VetIDKey, id)
	}
	if clientID != "" {
		id, err := uuid.Parse(clientID)
		if err != nil {
			return nil, fmt.Errorf("invalid client_id claim")
		}
		ctx = context.WithValue(ctx, ClientIDKey, id)
	}
	return ctx, nil
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// VetIDFromContext returns uuid.Nil when the user is not linked to a vet.
func VetIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(VetIDKey).(uuid.UUID)
	return id
}

func ClientIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ClientIDKey).(uuid.UUID)
	return id
}
