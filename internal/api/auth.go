package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"assetforge/internal/rights"
)

// Authenticator выпускает и проверяет HS256-токены актора.
// Claims: sub, profile, super_admin, denied.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator: пустой секрет - аутентификация выключена (nil).
func NewAuthenticator(secret string) *Authenticator {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Issue(actor rights.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":         actor.ID,
		"profile":     actor.Profile,
		"super_admin": actor.SuperAdmin,
		"iat":         now.Unix(),
	}
	if len(actor.Denied) > 0 {
		claims["denied"] = actor.Denied
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return s, nil
}

func (a *Authenticator) Parse(tokenString string) (rights.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return rights.Actor{}, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return rights.Actor{}, errors.New("invalid token")
	}

	sub, _ := (*claims)["sub"].(string)
	if sub == "" {
		return rights.Actor{}, errors.New("missing or invalid sub claim")
	}
	actor := rights.Actor{ID: sub}
	actor.Profile, _ = (*claims)["profile"].(string)
	actor.SuperAdmin, _ = (*claims)["super_admin"].(bool)
	if list, ok := (*claims)["denied"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				actor.Denied = append(actor.Denied, s)
			}
		}
	}
	return actor, nil
}

// Authenticate кладёт актора запроса в контекст. Без Authenticator все
// запросы идут от системного актора (локальная разработка).
func Authenticate(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil {
			c.Request = c.Request.WithContext(rights.WithActor(c.Request.Context(), rights.System))
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		actor, err := a.Parse(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Request = c.Request.WithContext(rights.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func actorOf(c *gin.Context) rights.Actor {
	a, _ := rights.FromContext(c.Request.Context())
	return a
}

// requireConfig: управление определениями только для супер-админа.
func requireConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := actorOf(c).CheckConfig(); err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}
