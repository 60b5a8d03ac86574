package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "middleware-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"uid":   "u-1",
		"name":  "Store Keeper",
		"email": "keeper@site.test",
		"dept":  "dept-store",
		"roles": []string{"staff"},
		"perms": []string{"report:export"},
		"iss":   "backoffice",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":       c.GetString("user_id"),
			"department_id": c.GetString("department_id"),
		})
	})
	r.GET("/p", handlers...)
	return r
}

func TestJWTAuthSetsDepartment(t *testing.T) {
	r := newRouter(JWTAuth(testSecret))
	token := signToken(t, validClaims(), jwt.SigningMethodHS256, []byte(testSecret))

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body := w.Body.String(); body != `{"department_id":"dept-store","user_id":"u-1"}` {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestJWTAuthQueryToken(t *testing.T) {
	r := newRouter(JWTAuth(testSecret))
	token := signToken(t, validClaims(), jwt.SigningMethodHS256, []byte(testSecret))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p?token="+token, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestJWTAuthRejects(t *testing.T) {
	r := newRouter(JWTAuth(testSecret))

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	cases := map[string]string{
		"missing":      "",
		"wrong secret": signToken(t, validClaims(), jwt.SigningMethodHS256, []byte("other")),
		"expired":      signToken(t, expired, jwt.SigningMethodHS256, []byte(testSecret)),
		"wrong alg":    signToken(t, validClaims(), jwt.SigningMethodHS512, []byte(testSecret)),
	}
	for name, token := range cases {
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, w.Code)
		}
	}
}

func TestJWTAuthIssuer(t *testing.T) {
	token := signToken(t, validClaims(), jwt.SigningMethodHS256, []byte(testSecret))

	for issuer, want := range map[string]int{
		"backoffice": http.StatusOK,
		"other":      http.StatusUnauthorized,
	} {
		r := newRouter(JWTAuth(testSecret, WithIssuer(issuer)))
		req := httptest.NewRequest(http.MethodGet, "/p", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("issuer %s: expected %d, got %d", issuer, want, w.Code)
		}
	}
}

func TestJWTAuthEnvelope(t *testing.T) {
	r := newRouter(JWTAuth(testSecret))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))

	var body struct {
		Success bool   `json:"success"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Code != 40100 || body.Message == "" {
		t.Errorf("unexpected envelope %+v", body)
	}
}

func serve(t *testing.T, r *gin.Engine, claims jwt.MapClaims) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, claims, jwt.SigningMethodHS256, []byte(testSecret)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequirePermission(t *testing.T) {
	withPerms := func(perms ...string) jwt.MapClaims {
		c := validClaims()
		c["perms"] = perms
		return c
	}

	cases := []struct {
		name    string
		granted jwt.MapClaims
		require []string
		want    int
	}{
		{"exact", validClaims(), []string{"report:export"}, http.StatusOK},
		{"missing", validClaims(), []string{"reference:write"}, http.StatusForbidden},
		{"any of", validClaims(), []string{"reference:write", "report:export"}, http.StatusOK},
		{"global wildcard", withPerms("*"), []string{"reference:write"}, http.StatusOK},
		{"scope wildcard", withPerms("reference:*"), []string{"reference:write"}, http.StatusOK},
		{"other scope", withPerms("reference:*"), []string{"report:export"}, http.StatusForbidden},
	}
	for _, tc := range cases {
		r := newRouter(JWTAuth(testSecret), RequirePermission(tc.require...))
		if got := serve(t, r, tc.granted); got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestRequireDepartment(t *testing.T) {
	r := newRouter(JWTAuth(testSecret), RequireDepartment())
	if got := serve(t, r, validClaims()); got != http.StatusOK {
		t.Errorf("expected 200, got %d", got)
	}

	noDept := validClaims()
	delete(noDept, "dept")
	if got := serve(t, r, noDept); got != http.StatusForbidden {
		t.Errorf("expected 403 without department, got %d", got)
	}
}

func TestCORSAllowList(t *testing.T) {
	r := newRouter(CORS("https://ops.example.com"))

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Errorf("expected allowed origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow header for unknown origin, got %q", got)
	}
}

func TestRequestIDEchoesHeader(t *testing.T) {
	r := newRouter(RequestID())
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/p", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}
}
