package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conbuild/backoffice/internal/middleware"
	"github.com/conbuild/backoffice/internal/supply/entity"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestSchema = "test_supply"
	JWTSecret  = "backoffice-test-jwt-secret"
	Issuer     = "backoffice"
)

var dbSeq int64

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// projectRoot returns the project root directory by looking for go.mod
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// loadEnv loads .env from the project root
func loadEnv() {
	if root := projectRoot(); root != "" {
		godotenv.Load(filepath.Join(root, ".env"))
	}
}

// SetupTestDB opens an isolated, migrated database for one test. SQLite in
// memory by default; TEST_DB_DRIVER=postgres uses a throwaway schema instead.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	var db *gorm.DB
	if os.Getenv("TEST_DB_DRIVER") == "postgres" {
		db = setupPostgres(t)
	} else {
		db = setupSQLite(t)
	}

	if err := db.AutoMigrate(entity.All()...); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}
	return db
}

func setupSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:supply_%d_%d?mode=memory&cache=shared",
		time.Now().UnixNano(), atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sqlite handle: %v", err)
	}
	// 单连接，避免内存库在事务中锁表
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func setupPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	baseDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("DB_HOST", "127.0.0.1"), getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "backoffice"), getEnv("DB_PASSWORD", "backoffice"),
		getEnv("DB_NAME", "backoffice"))

	schemaName := fmt.Sprintf("%s_%d", TestSchema, time.Now().UnixNano()%1000000)

	setupDB, err := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to database for schema setup: %v", err)
	}
	setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName))
	sqlSetup, _ := setupDB.DB()
	sqlSetup.Close()

	db, err := gorm.Open(postgres.Open(fmt.Sprintf("%s search_path=%s", baseDSN, schemaName)), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, _ := db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
		cleanDB, cleanErr := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			if sqlClean, _ := cleanDB.DB(); sqlClean != nil {
				sqlClean.Close()
			}
		}
	})
	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret, middleware.WithIssuer(Issuer)))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name, email, departmentID string, roles, permissions []string) string {
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"email": email,
		"dept":  departmentID,
		"roles": roles,
		"perms": permissions,
		"iss":   Issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken returns a token for an admin test user in the given department
func DefaultTestToken(departmentID string) string {
	return GenerateTestToken(
		"test-user-001",
		"Test Admin",
		"admin@test.com",
		departmentID,
		[]string{"admin"},
		[]string{"*"},
	)
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a handler.Response-like map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// Data returns the "data" object of a response envelope
func Data(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	resp := ParseResponse(w)
	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no data object: %s", w.Body.String())
	}
	return data
}

// SeedDepartment creates a department
func SeedDepartment(t *testing.T, db *gorm.DB, id, name, leaderEmail string) *entity.Department {
	t.Helper()
	d := &entity.Department{ID: id, Name: name, LeaderEmail: leaderEmail}
	if err := db.Create(d).Error; err != nil {
		t.Fatalf("Failed to seed department: %v", err)
	}
	return d
}

// SeedSite creates a construction site
func SeedSite(t *testing.T, db *gorm.DB, id, name string) *entity.Site {
	t.Helper()
	s := &entity.Site{ID: id, Name: name, Location: name + " yard"}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("Failed to seed site: %v", err)
	}
	return s
}

// SeedActivity creates a project with one activity
func SeedActivity(t *testing.T, db *gorm.DB, projectID, activityID, name string) *entity.Activity {
	t.Helper()
	if err := db.Create(&entity.Project{ID: projectID, Code: "PRJ-" + projectID, Name: "Project " + projectID}).Error; err != nil {
		t.Fatalf("Failed to seed project: %v", err)
	}
	a := &entity.Activity{ID: activityID, ProjectID: projectID, Name: name}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("Failed to seed activity: %v", err)
	}
	return a
}

// SeedMaterial creates a material
func SeedMaterial(t *testing.T, db *gorm.DB, id, name string) *entity.Material {
	t.Helper()
	m := &entity.Material{ID: id, Code: "MAT-" + id, Name: name, Unit: "pcs"}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("Failed to seed material: %v", err)
	}
	return m
}

// SeedRequest creates a pending request owned by departmentID
func SeedRequest(t *testing.T, db *gorm.DB, id, departmentID, activityID, siteID string, materialIDs ...string) *entity.Request {
	t.Helper()
	r := &entity.Request{
		ID:           id,
		DepartmentID: departmentID,
		UserID:       "test-user-001",
		ActivityID:   activityID,
		SiteID:       siteID,
		MaterialIDs:  entity.IDList(materialIDs),
		Quantity:     10,
		Status:       "Pending",
	}
	if err := db.Create(r).Error; err != nil {
		t.Fatalf("Failed to seed request: %v", err)
	}
	return r
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
