package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// 上下文键
const (
	CtxUserID       = "user_id"
	CtxUserName     = "user_name"
	CtxUserEmail    = "user_email"
	CtxDepartmentID = "department_id"
	CtxRoles        = "roles"
	CtxPermissions  = "permissions"
	CtxClaims       = "claims"
)

// Claims 访问令牌载荷
type Claims struct {
	UserID       string   `json:"uid"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	DepartmentID string   `json:"dept"`
	Roles        []string `json:"roles"`
	Permissions  []string `json:"perms"`
	jwt.RegisteredClaims
}

// AuthOption 调整令牌校验
type AuthOption func(*authOptions)

type authOptions struct {
	issuer string
}

// WithIssuer 要求令牌 iss 与之一致，空串不校验
func WithIssuer(issuer string) AuthOption {
	return func(o *authOptions) { o.issuer = issuer }
}

// JWTAuth 校验 HS256 令牌并把操作人写入上下文。
// 令牌取自 Authorization 头，SSE 连接无法带头时可用 ?token=。
func JWTAuth(secret string, opts ...AuthOption) gin.HandlerFunc {
	var o authOptions
	for _, opt := range opts {
		opt(&o)
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if o.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(o.issuer))
	}
	parser := jwt.NewParser(parserOpts...)
	keyFunc := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }

	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abort(c, http.StatusUnauthorized, 40100, "未提供认证令牌")
			return
		}

		claims := &Claims{}
		token, err := parser.ParseWithClaims(raw, claims, keyFunc)
		if err != nil || !token.Valid {
			abort(c, http.StatusUnauthorized, 40102, "认证令牌无效或已过期")
			return
		}

		if claims.UserID == "" {
			claims.UserID = claims.Subject
		}
		if claims.UserID == "" {
			abort(c, http.StatusUnauthorized, 40103, "令牌缺少用户标识")
			return
		}

		c.Set(CtxClaims, claims)
		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUserName, claims.Name)
		c.Set(CtxUserEmail, claims.Email)
		c.Set(CtxDepartmentID, claims.DepartmentID)
		c.Set(CtxRoles, claims.Roles)
		c.Set(CtxPermissions, claims.Permissions)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.Query("token")
}

// ClaimsFrom 取当前请求的令牌载荷
func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(CtxClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

func abort(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"code":    code,
		"message": message,
	})
}
