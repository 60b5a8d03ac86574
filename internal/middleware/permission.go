package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequirePermission 持有任一权限即放行。
// 授权项支持 "*" 与 "reference:*" 这类前缀通配。
func RequirePermission(perms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			abort(c, http.StatusUnauthorized, 40100, "未认证")
			return
		}
		for _, want := range perms {
			if hasPermission(claims.Permissions, want) {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, 40301, "权限不足: "+strings.Join(perms, " | "))
	}
}

// RequireDepartment 操作人必须归属某个部门
func RequireDepartment() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			abort(c, http.StatusUnauthorized, 40100, "未认证")
			return
		}
		if claims.DepartmentID == "" {
			abort(c, http.StatusForbidden, 40302, "操作人未归属任何部门")
			return
		}
		c.Next()
	}
}

// HasPermission 当前请求是否持有某权限
func HasPermission(c *gin.Context, perm string) bool {
	claims, ok := ClaimsFrom(c)
	return ok && hasPermission(claims.Permissions, perm)
}

func hasPermission(granted []string, want string) bool {
	for _, g := range granted {
		switch {
		case g == "*", g == want:
			return true
		case strings.HasSuffix(g, ":*") && strings.HasPrefix(want, strings.TrimSuffix(g, "*")):
			return true
		}
	}
	return false
}
