package handler

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/conbuild/backoffice/internal/shared/cache"
	"github.com/conbuild/backoffice/internal/supply/repository"
	"github.com/conbuild/backoffice/internal/supply/service"
	"github.com/conbuild/backoffice/internal/supply/sse"
	"github.com/conbuild/backoffice/internal/supply/testutil"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

func setupWorkflowTest(t *testing.T) (*gin.Engine, *testutil.TestEnv) {
	t.Helper()
	db := testutil.SetupTestDB(t)

	testutil.SeedDepartment(t, db, "dept-store", "Store", "")
	testutil.SeedDepartment(t, db, "dept-proc", "Procurement", "")
	testutil.SeedDepartment(t, db, "dept-fin", "Finance", "")
	testutil.SeedSite(t, db, "site-a", "Site A")
	testutil.SeedSite(t, db, "site-b", "Site B")
	testutil.SeedActivity(t, db, "prj-1", "act-1", "Foundation pour")
	testutil.SeedMaterial(t, db, "mat-1", "Cement")

	repos := repository.NewRepositories(db)
	hub := sse.NewHub(nil)
	svcs := service.NewServices(repos, service.Deps{Cache: cache.NewMemoryCache(time.Minute), Hub: hub})
	h := NewHandlers(svcs, hub)

	router := testutil.SetupRouter()
	api := testutil.AuthGroup(router, "/api/v1")
	RegisterRoutes(api, h)

	return router, &testutil.TestEnv{DB: db, Router: router, T: t}
}

func tokenFor(dept string) string {
	return testutil.DefaultTestToken(dept)
}

func createRequest(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := testutil.DoRequest(router, "POST", "/api/v1/requests", map[string]interface{}{
		"activity_id":  "act-1",
		"site_id":      "site-a",
		"material_ids": []string{"mat-1"},
		"quantity":     12,
	}, tokenFor("dept-store"))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return testutil.Data(t, w)["id"].(string)
}

func postApproval(router *gin.Engine, requestID, dept string, body map[string]interface{}) *httptest.ResponseRecorder {
	payload := map[string]interface{}{"request_id": requestID, "status": "Approved"}
	for k, v := range body {
		payload[k] = v
	}
	return testutil.DoRequest(router, "POST", "/api/v1/approvals", payload, tokenFor(dept))
}

func mustApprove(t *testing.T, router *gin.Engine, requestID, dept string, body map[string]interface{}) string {
	t.Helper()
	w := postApproval(router, requestID, dept, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 approving as %s, got %d: %s", dept, w.Code, w.Body.String())
	}
	return testutil.Data(t, w)["id"].(string)
}

// deliverable runs store -> proc(final) and returns the request and final approval ids.
func deliverable(t *testing.T, router *gin.Engine) (string, string) {
	t.Helper()
	requestID := createRequest(t, router)
	mustApprove(t, router, requestID, "dept-store", map[string]interface{}{"next_department_id": "dept-proc"})
	final := mustApprove(t, router, requestID, "dept-proc", map[string]interface{}{"final_department": true})
	return requestID, final
}

func TestWorkflowEndToEnd(t *testing.T) {
	router, _ := setupWorkflowTest(t)

	requestID := createRequest(t, router)

	// draft for the owning department
	w := testutil.DoRequest(router, "GET", "/api/v1/requests/"+requestID+"/approvals/draft", nil, tokenFor("dept-store"))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	draft := testutil.Data(t, w)
	if draft["step_order"] != float64(1) || draft["department_id"] != "dept-store" {
		t.Errorf("Unexpected draft: %v", draft)
	}

	mustApprove(t, router, requestID, "dept-store", map[string]interface{}{"next_department_id": "dept-proc"})

	// allocation page of the designated department
	w = testutil.DoRequest(router, "GET", "/api/v1/allocations", nil, tokenFor("dept-proc"))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	rows := testutil.Data(t, w)["items"].([]interface{})
	if len(rows) != 1 || rows[0].(map[string]interface{})["can_allocate"] != true {
		t.Fatalf("Expected one allocatable row, got %v", rows)
	}

	final := mustApprove(t, router, requestID, "dept-proc", map[string]interface{}{"final_department": true})

	w = testutil.DoRequest(router, "GET", "/api/v1/approvals/deliverable", nil, tokenFor("dept-proc"))
	items := testutil.Data(t, w)["items"].([]interface{})
	if len(items) != 1 || items[0].(map[string]interface{})["activity_name"] != "Foundation pour" {
		t.Fatalf("Expected the final approval to be deliverable, got %v", items)
	}

	w = testutil.DoRequest(router, "POST", "/api/v1/dispatches", map[string]interface{}{
		"approval_id":      final,
		"dispatched_by":    "Truck",
		"depature_site_id": "site-b",
		"arrival_site_id":  "site-a",
	}, tokenFor("dept-proc"))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for dispatch, got %d: %s", w.Code, w.Body.String())
	}
	if testutil.Data(t, w)["depature_site_id"] != "site-b" {
		t.Errorf("Expected depature_site_id in response, got %s", w.Body.String())
	}

	w = testutil.DoRequest(router, "POST", "/api/v1/request-deliveries", map[string]interface{}{
		"approval_id":       final,
		"recieved_quantity": 12,
		"delivered_by":      "Ali",
		"recieved_by":       "Foreman",
		"delivery_date":     "2024-05-15T10:00:00Z",
		"site_id":           "site-a",
		"status":            "Delivered",
	}, tokenFor("dept-store"))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for delivery, got %d: %s", w.Code, w.Body.String())
	}
	delivery := testutil.Data(t, w)
	if delivery["recieved_quantity"] != float64(12) || delivery["recieved_by"] != "Foreman" {
		t.Errorf("Unexpected delivery payload: %v", delivery)
	}

	w = testutil.DoRequest(router, "GET", "/api/v1/requests/"+requestID, nil, tokenFor("dept-store"))
	req := testutil.Data(t, w)
	if req["status"] != "Completed" {
		t.Errorf("Expected request Completed, got %v", req["status"])
	}
	if approvals := req["approvals"].([]interface{}); len(approvals) != 2 {
		t.Errorf("Expected 2 approvals on the request, got %d", len(approvals))
	}

	w = testutil.DoRequest(router, "GET", fmt.Sprintf("/api/v1/activity-logs?entity_type=request&entity_id=%s", requestID), nil, tokenFor("dept-store"))
	if total := testutil.Data(t, w)["total"]; total != float64(3) {
		t.Errorf("Expected create + 2 status changes, got %v", total)
	}
}

func TestApprovalConflicts(t *testing.T) {
	router, _ := setupWorkflowTest(t)
	requestID := createRequest(t, router)
	mustApprove(t, router, requestID, "dept-store", map[string]interface{}{"next_department_id": "dept-proc"})

	w := postApproval(router, requestID, "dept-fin", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for undesignated department, got %d: %s", w.Code, w.Body.String())
	}

	mustApprove(t, router, requestID, "dept-proc", nil)
	w = postApproval(router, requestID, "dept-store", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for revisit, got %d: %s", w.Code, w.Body.String())
	}

	w = postApproval(router, requestID, "dept-fin", map[string]interface{}{"status": "Maybe"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown status, got %d: %s", w.Code, w.Body.String())
	}

	w = postApproval(router, "missing", "dept-fin", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown request, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["success"] != false || resp["code"] != float64(40400) {
		t.Errorf("Unexpected error envelope: %v", resp)
	}
}

func TestDeliveryRejectsZeroQuantity(t *testing.T) {
	router, _ := setupWorkflowTest(t)
	_, final := deliverable(t, router)

	w := testutil.DoRequest(router, "POST", "/api/v1/request-deliveries", map[string]interface{}{
		"approval_id":       final,
		"recieved_quantity": 0,
		"delivered_by":      "Ali",
		"recieved_by":       "Foreman",
		"delivery_date":     "2024-05-15T10:00:00Z",
		"site_id":           "site-a",
		"status":            "Delivered",
	}, tokenFor("dept-store"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	msg, _ := resp["message"].(string)
	if !strings.HasPrefix(msg, "Failed to create request delivery: ") || !strings.Contains(msg, "recieved_quantity") {
		t.Errorf("Unexpected message: %q", msg)
	}
	if resp["success"] != false {
		t.Errorf("Expected success=false, got %v", resp["success"])
	}
}

func TestDispatchDurationRoundTrip(t *testing.T) {
	router, _ := setupWorkflowTest(t)
	_, final := deliverable(t, router)

	sent := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	w := testutil.DoRequest(router, "POST", "/api/v1/dispatches", map[string]interface{}{
		"approval_id":      final,
		"dispatched_by":    "Plane",
		"dispatched_date":  sent.Format(time.RFC3339),
		"duration_days":    5,
		"depature_site_id": "site-b",
		"arrival_site_id":  "site-a",
	}, tokenFor("dept-proc"))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	d := testutil.Data(t, w)
	if d["duration_days"] != float64(5) {
		t.Errorf("Expected duration 5, got %v", d["duration_days"])
	}
	eta, _ := time.Parse(time.RFC3339, d["est_arrival_time"].(string))
	if !eta.Equal(sent.AddDate(0, 0, 5)) {
		t.Errorf("Expected arrival D+5, got %v", eta)
	}

	id := d["id"].(string)
	w = testutil.DoRequest(router, "PUT", "/api/v1/dispatches/"+id, map[string]interface{}{"duration_days": 3}, tokenFor("dept-proc"))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	d = testutil.Data(t, w)
	eta, _ = time.Parse(time.RFC3339, d["est_arrival_time"].(string))
	if d["duration_days"] != float64(3) || !eta.Equal(sent.AddDate(0, 0, 3)) {
		t.Errorf("Expected D+3, got %v (%v)", eta, d["duration_days"])
	}

	w = testutil.DoRequest(router, "PUT", "/api/v1/dispatches/"+id, map[string]interface{}{"status": "Delivered"}, tokenFor("dept-proc"))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for Pending -> Delivered, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDispatchNeedsDeliverableApproval(t *testing.T) {
	router, _ := setupWorkflowTest(t)
	requestID := createRequest(t, router)
	open := mustApprove(t, router, requestID, "dept-store", map[string]interface{}{"next_department_id": "dept-proc"})

	w := testutil.DoRequest(router, "POST", "/api/v1/dispatches", map[string]interface{}{
		"approval_id":      open,
		"dispatched_by":    "Truck",
		"depature_site_id": "site-b",
		"arrival_site_id":  "site-a",
	}, tokenFor("dept-proc"))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(router, "POST", "/api/v1/dispatches", map[string]interface{}{
		"approval_id":      open,
		"dispatched_by":    "Truck",
		"depature_site_id": "site-b",
	}, tokenFor("dept-proc"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without arrival site, got %d: %s", w.Code, w.Body.String())
	}
}

func TestReferenceEndpoints(t *testing.T) {
	router, _ := setupWorkflowTest(t)

	w := testutil.DoRequest(router, "POST", "/api/v1/materials", map[string]interface{}{
		"code": "MAT-9", "name": "Gravel", "unit": "t",
	}, tokenFor("dept-store"))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(router, "GET", "/api/v1/materials", nil, tokenFor("dept-store"))
	if items := testutil.Data(t, w)["items"].([]interface{}); len(items) != 2 {
		t.Errorf("Expected 2 materials, got %d", len(items))
	}

	w = testutil.DoRequest(router, "GET", "/api/v1/resources?material_ids=mat-1,unknown", nil, tokenFor("dept-store"))
	if mats := testutil.Data(t, w)["materials"].([]interface{}); len(mats) != 1 {
		t.Errorf("Expected 1 resolved material, got %v", mats)
	}

	// writes need the reference permission
	noPerm := testutil.GenerateTestToken("u-2", "Clerk", "clerk@test.com", "dept-store", nil, nil)
	w = testutil.DoRequest(router, "POST", "/api/v1/sites", map[string]interface{}{"name": "Site C"}, noPerm)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}

	w = testutil.DoRequest(router, "GET", "/api/v1/requests", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
}

func TestImportMaterials(t *testing.T) {
	router, _ := setupWorkflowTest(t)

	x := excelize.NewFile()
	sheet := x.GetSheetName(0)
	rows := [][]interface{}{
		{"code", "name", "unit"},
		{"MAT-10", "Sand", "t"},
		{"MAT-11", "Lime", "bag"},
		{"MAT-12", "", "bag"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		x.SetSheetRow(sheet, cell, &row)
	}
	var buf bytes.Buffer
	if err := x.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, _ := writer.CreateFormFile("file", "materials.xlsx")
	io.Copy(part, &buf)
	writer.Close()

	req, _ := http.NewRequest("POST", "/api/v1/materials/import", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tokenFor("dept-store"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	result := testutil.Data(t, w)
	if result["created"] != float64(2) || result["skipped"] != float64(1) {
		t.Errorf("Unexpected import result: %v", result)
	}
}

func TestExportDispatches(t *testing.T) {
	router, _ := setupWorkflowTest(t)
	_, final := deliverable(t, router)

	w := testutil.DoRequest(router, "POST", "/api/v1/dispatches", map[string]interface{}{
		"approval_id":      final,
		"dispatched_by":    "Truck",
		"depature_site_id": "site-b",
		"arrival_site_id":  "site-a",
	}, tokenFor("dept-proc"))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(router, "GET", "/api/v1/dispatches/export", nil, tokenFor("dept-proc"))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	x, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer x.Close()
	rows, err := x.GetRows(x.GetSheetName(0))
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("Expected header + 1 row, got %d", len(rows))
	}
}

func TestMonthFilterValidation(t *testing.T) {
	router, _ := setupWorkflowTest(t)
	w := testutil.DoRequest(router, "GET", "/api/v1/dispatches?month=not-a-month", nil, tokenFor("dept-proc"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad month, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDepartmentOverrideNeedsPermission(t *testing.T) {
	router, _ := setupWorkflowTest(t)
	requestID := createRequest(t, router)

	clerk := testutil.GenerateTestToken("u-2", "Clerk", "clerk@test.com", "dept-store", nil, nil)

	w := testutil.DoRequest(router, "GET", "/api/v1/allocations", nil, clerk)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected own allocation page, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(router, "GET", "/api/v1/allocations?department_id=dept-proc", nil, clerk)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for another department's page, got %d", w.Code)
	}
	if resp := testutil.ParseResponse(w); resp["code"] != float64(40303) {
		t.Errorf("Expected code 40303, got %v", resp["code"])
	}

	w = testutil.DoRequest(router, "POST", "/api/v1/approvals", map[string]interface{}{
		"request_id": requestID, "department_id": "dept-proc", "status": "Approved",
	}, clerk)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 when signing for another department, got %d: %s", w.Code, w.Body.String())
	}

	coordinator := testutil.GenerateTestToken("u-3", "Coordinator", "coord@test.com", "dept-store", nil, []string{PermApprovalAnyDept})
	w = testutil.DoRequest(router, "GET", "/api/v1/allocations?department_id=dept-proc", nil, coordinator)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected coordinator to view dept-proc, got %d: %s", w.Code, w.Body.String())
	}
	if got := testutil.Data(t, w)["department_id"]; got != "dept-proc" {
		t.Errorf("Expected dept-proc page, got %v", got)
	}
}
