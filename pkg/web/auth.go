package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"
)

var validSigningMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "EdDSA"}

type JWTAuth struct {
	keys   *KeySet
	parser jwt.Parser
}

func NewJWTAuth(keys *KeySet) *JWTAuth {
	return &JWTAuth{
		keys:   keys,
		parser: jwt.Parser{ValidMethods: validSigningMethods},
	}
}

func (a *JWTAuth) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		keyIDInterface, exists := token.Header["kid"]
		if !exists {
			return nil, errors.New("kid claim in header doesnt exist")
		}
		keyID, ok := keyIDInterface.(string)
		if !ok {
			return nil, errors.New("kid claim in header is not a string")
		}
		return a.keys.LookupKey(ctx, keyID)
	}
}

func (a *JWTAuth) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.Request.Header.Get("Authorization")
		if authHeader == "" {
			c.Header("Cache-Control", "no-store")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.Header("Cache-Control", "no-store")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		parsedToken, err := a.parser.Parse(token, a.keyFunc(c.Request.Context()))
		if err != nil || !parsedToken.Valid {
			log.Warn().Err(err).Str("request_id", c.GetString("request_id")).Msg("Failed to validate token")
			c.Header("Cache-Control", "no-store")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "failed to validate token"})
			return
		}

		if claims, ok := parsedToken.Claims.(jwt.MapClaims); ok {
			if sub, ok := claims["sub"].(string); ok {
				c.Set("subject", sub)
			}
		}
		c.Next()
	}
}
