package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestExtractClinicID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Clinic-ID", "header_clinic")
	c := e.NewContext(req, httptest.NewRecorder())

	if got := extractClinicID(c, "default"); got != "header_clinic" {
		t.Errorf("expected header clinic, got %q", got)
	}
	c.Set("jwt_clinic_id", "token_clinic")
	if got := extractClinicID(c, "default"); got != "token_clinic" {
		t.Errorf("expected token claim to win, got %q", got)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if got := extractClinicID(c, "default"); got != "default" {
		t.Errorf("expected default, got %q", got)
	}
}

func TestValidClinicID(t *testing.T) {
	tests := map[string]bool{
		"north":            true,
		"clinic_42":        true,
		"":                 false,
		"a-b":              false,
		"x; DROP SCHEMA y": false,
		"toolongtoolongtoolongtoolongtoolongtoolongtoolong": false,
	}
	for id, want := range tests {
		if got := ValidClinicID(id); got != want {
			t.Errorf("ValidClinicID(%q) = %v, want %v", id, got, want)
		}
	}
	if SchemaName("north") != "clinic_north" {
		t.Errorf("unexpected schema %q", SchemaName("north"))
	}
}

func TestClinicMiddleware_WithoutPool(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Clinic-ID", "south")
	c := e.NewContext(req, httptest.NewRecorder())

	err := ClinicMiddleware(nil, "default")(func(c echo.Context) error {
		if got := ClinicFromContext(c.Request().Context()); got != "south" {
			t.Errorf("expected clinic in context, got %q", got)
		}
		if c.Get("clinic_id") != "south" {
			t.Errorf("expected clinic on echo context")
		}
		if ConnFromContext(c.Request().Context()) != nil {
			t.Error("expected no pinned connection without a pool")
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Clinic-ID", "bad-id")
	err = ClinicMiddleware(nil, "default")(func(c echo.Context) error { return nil })(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid clinic, got %v", err)
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if ConnFromContext(ctx) != nil || ClinicFromContext(ctx) != "" {
		t.Error("expected zero values from empty context")
	}
	ctx = context.WithValue(ctx, DBConnKey, "not-a-conn")
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil for wrong type")
	}
}

func TestCreateClinicSchema_InvalidID(t *testing.T) {
	if err := CreateClinicSchema(context.Background(), nil, "drop table", nil); err == nil {
		t.Error("expected error for invalid clinic identifier")
	}
}

func TestOpenBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinic.db")
	db, err := OpenBolt(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := OpenBolt(path, 50*time.Millisecond); err == nil {
		t.Error("expected second open of a locked file to time out")
	}
}
