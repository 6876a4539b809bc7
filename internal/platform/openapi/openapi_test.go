package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func noop(c echo.Context) error { return nil }

func newTestGenerator() (*echo.Echo, *Generator) {
	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc { return next })
	api.GET("/appointments", noop)
	api.POST("/appointments", noop)
	api.GET("/appointments/:id", noop)
	api.POST("/appointments/:id/confirm", noop)
	api.DELETE("/appointments/:id", noop)
	e.GET("/health", noop)

	g := NewGenerator("Clinic Scheduling API", "1.0.0", "/api/v1", e.Routes)
	g.AddSchema("Appointment", map[string]interface{}{"type": "object"})
	g.Describe(http.MethodGet, "/appointments", Operation{Summary: "List appointments", Response: "Appointment", List: true, Query: []string{"provider_id"}})
	g.Describe(http.MethodPost, "/appointments", Operation{Summary: "Book an appointment", Request: "Appointment", Response: "Appointment"})
	g.Describe(http.MethodDelete, "/appointments/:id", Operation{Status: http.StatusNoContent})
	return e, g
}

func operation(t *testing.T, doc map[string]interface{}, path, method string) map[string]interface{} {
	t.Helper()
	paths := doc["paths"].(map[string]map[string]interface{})
	item, ok := paths[path]
	if !ok {
		t.Fatalf("path %s missing; have %v", path, paths)
	}
	op, ok := item[method].(map[string]interface{})
	if !ok {
		t.Fatalf("%s %s missing", method, path)
	}
	return op
}

func TestGenerateDocument_Structure(t *testing.T) {
	_, g := newTestGenerator()
	doc := g.GenerateDocument()

	if doc["openapi"] != "3.0.3" {
		t.Errorf("expected openapi '3.0.3', got %v", doc["openapi"])
	}
	info := doc["info"].(map[string]interface{})
	if info["title"] != "Clinic Scheduling API" || info["version"] != "1.0.0" {
		t.Errorf("unexpected info %v", info)
	}

	paths := doc["paths"].(map[string]map[string]interface{})
	if _, ok := paths["/health"]; ok {
		t.Error("routes outside the prefix must not be listed")
	}
	for p := range paths {
		if strings.Contains(p, "*") {
			t.Errorf("catch-all route %s must not be listed", p)
		}
	}

	components := doc["components"].(map[string]interface{})
	schemas := components["schemas"].(map[string]interface{})
	if _, ok := schemas["Error"]; !ok {
		t.Error("expected built-in Error schema")
	}
	if _, ok := schemas["Appointment"]; !ok {
		t.Error("expected registered Appointment schema")
	}
}

func TestGenerateDocument_Operations(t *testing.T) {
	_, g := newTestGenerator()
	doc := g.GenerateDocument()

	create := operation(t, doc, "/api/v1/appointments", "post")
	if create["summary"] != "Book an appointment" {
		t.Errorf("unexpected summary %v", create["summary"])
	}
	if create["operationId"] != "postAppointments" {
		t.Errorf("unexpected operationId %v", create["operationId"])
	}
	responses := create["responses"].(map[string]interface{})
	if _, ok := responses["201"]; !ok {
		t.Errorf("expected 201 response, got %v", responses)
	}
	if _, ok := responses["409"]; !ok {
		t.Error("mutations should document 409")
	}
	if _, ok := create["requestBody"]; !ok {
		t.Error("expected request body")
	}

	list := operation(t, doc, "/api/v1/appointments", "get")
	params := list["parameters"].([]map[string]interface{})
	names := map[string]bool{}
	for _, p := range params {
		names[p["name"].(string)] = true
	}
	for _, want := range []string{"provider_id", "limit", "offset"} {
		if !names[want] {
			t.Errorf("expected query parameter %s, got %v", want, names)
		}
	}

	confirm := operation(t, doc, "/api/v1/appointments/{id}/confirm", "post")
	if confirm["operationId"] != "postAppointmentsByIdConfirm" {
		t.Errorf("unexpected operationId %v", confirm["operationId"])
	}
	if confirm["summary"] != "POST /appointments/:id/confirm" {
		t.Errorf("undocumented route should get a default summary, got %v", confirm["summary"])
	}
	confirmResponses := confirm["responses"].(map[string]interface{})
	if _, ok := confirmResponses["200"]; !ok {
		t.Errorf("expected 200 for sub-action, got %v", confirmResponses)
	}
	if _, ok := confirmResponses["404"]; !ok {
		t.Error("routes with an id should document 404")
	}

	del := operation(t, doc, "/api/v1/appointments/{id}", "delete")
	if _, ok := del["responses"].(map[string]interface{})["204"]; !ok {
		t.Error("expected 204 for delete")
	}
}

func TestConvertPath(t *testing.T) {
	got, params := convertPath("/api/v1/patients/:id/appointments")
	if got != "/api/v1/patients/{id}/appointments" {
		t.Errorf("unexpected path %s", got)
	}
	if len(params) != 1 || params[0] != "id" {
		t.Errorf("unexpected params %v", params)
	}
}

func TestRegisterRoutes(t *testing.T) {
	e, g := newTestGenerator()
	g.RegisterRoutes(e.Group("/api"))

	req := httptest.NewRequest(http.MethodGet, "/api/openapi.json", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["openapi"] != "3.0.3" {
		t.Errorf("unexpected document %v", doc["openapi"])
	}

	req = httptest.NewRequest(http.MethodGet, "/api/docs", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "swagger-ui") {
		t.Errorf("unexpected docs response %d", rec.Code)
	}
}
