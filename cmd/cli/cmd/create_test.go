package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vlem/pkg/api"

	"github.com/spf13/viper"
)

func TestCreateCommand_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify request format
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/templates/web-basic/labs" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected Bearer token, got: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected application/json, got: %s", r.Header.Get("Content-Type"))
		}

		// Verify request body
		var reqBody map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if reqBody["name"] != "SQLi practice" {
			t.Errorf("expected name=SQLi practice, got %v", reqBody["name"])
		}
		if _, ok := reqBody["description"]; ok {
			t.Errorf("expected description to be omitted, got %v", reqBody["description"])
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.CreateLabResponse{
			Message: "Lab creation from template 'web-basic' accepted. Building in background.",
			ID:      "web-basic-0123456789ab",
			Status:  api.Accepted,
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	output, err := execute(t, "create", "web-basic", "--name", "SQLi practice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(output, "Lab ID: web-basic-0123456789ab") {
		t.Errorf("expected lab ID in output, got: %s", output)
	}
	if !strings.Contains(output, "Building in background") {
		t.Errorf("expected server message in output, got: %s", output)
	}
}

func TestCreateCommand_DefaultsSendEmptyBody(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if len(reqBody) != 0 {
			t.Errorf("expected an empty object, got %v", reqBody)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.CreateLabResponse{ID: "demo-1", Status: api.Accepted})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	if _, err := execute(t, "create", "demo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateCommand_TemplateNotFound(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Template not found", Code: "404"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	output, err := execute(t, "create", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(output, "Error (404): Template not found") {
		t.Errorf("expected API error in output, got: %s", output)
	}
}

func TestCreateCommand_RequiresTemplateArgument(t *testing.T) {
	resetViper()

	if _, err := execute(t, "create"); err == nil {
		t.Error("expected error when no template is provided")
	}
}

func TestCreateCommand_ConnectionError(t *testing.T) {
	resetViper()
	viper.Set("url", "http://127.0.0.1:1")

	output, err := execute(t, "create", "demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(output, "Error: request failed") {
		t.Errorf("expected connection error, got: %s", output)
	}
}
