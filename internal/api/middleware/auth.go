package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/thought-board/pkg/response"
)

const operatorKey = "operator_id"

// Claims 管理接口令牌；Subject 是操作者的 Discord 用户 ID
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken 签发 HS256 管理令牌
func IssueToken(secret, issuer, operatorID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	if operatorID == "" {
		return "", errors.New("operator id is empty")
	}
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   operatorID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// JWTAuth 校验 Bearer 令牌；secret 为空时管理接口整体关闭
func JWTAuth(secret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			response.Unavailable(c, "admin API disabled")
			return
		}
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			response.Unauthorized(c, "missing bearer token")
			return
		}

		var claims Claims
		_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
		if err != nil || claims.Subject == "" {
			response.Unauthorized(c, "invalid token")
			return
		}
		c.Set(operatorKey, claims.Subject)
		c.Next()
	}
}

// OperatorID 返回已认证的操作者
func OperatorID(c *gin.Context) string {
	return c.GetString(operatorKey)
}
