package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/sirupsen/logrus"

	"go-aftershock/db"
	"go-aftershock/types"
)

const principalKey = "principal"

// Authenticate resolves the caller from a bearer token, an access_token query
// parameter (browsers cannot set headers on websocket upgrades) or HTTP basic
// credentials. It never rejects a request; handlers decide what an absent
// principal means.
func Authenticate(jwtSecret string, directory db.UserDirectory, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" && jwtSecret != "" {
			userID, err := parseToken(token, jwtSecret)
			if err != nil {
				log.WithError(err).Debug("rejected token")
			} else {
				c.Set(principalKey, &types.Principal{UserID: userID})
			}
			c.Next()
			return
		}

		if id, password, ok := c.Request.BasicAuth(); ok {
			p, err := directory.AuthenticateUser(c.Request.Context(), id, password)
			if err != nil {
				log.WithField("userId", id).Debug("basic auth failed")
			} else {
				c.Set(principalKey, &p)
			}
		}
		c.Next()
	}
}

// PrincipalFrom returns the caller set by Authenticate.
func PrincipalFrom(c *gin.Context) (*types.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*types.Principal)
	return p, ok && p != nil
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return c.Query("access_token")
}

func parseToken(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	switch sub := claims["sub"].(type) {
	case string:
		if sub != "" {
			return sub, nil
		}
	case float64:
		return strconv.FormatInt(int64(sub), 10), nil
	}
	return "", errors.New("token has no subject")
}
