package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"vlem/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabClient_ListLabsQuery(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(api.ListLabsResponse{Labs: []api.LabResponse{}, Limit: 5})
	}))
	defer server.Close()

	client := NewLabClient(server.URL+"/", "")
	resp, err := client.ListLabs(LabQuery{Name: "sql", Status: "failed", SortBy: "updated_at", SortOrder: "asc", Limit: 5, Offset: 10})
	require.NoError(t, err)

	assert.Equal(t, 5, resp.Limit)
	assert.Equal(t, "limit=5&name=sql&offset=10&sort_by=updated_at&sort_order=asc&status=FAILED", gotQuery)
}

func TestLabClient_NoTokenNoHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]api.TemplateResponse{})
	}))
	defer server.Close()

	_, err := NewLabClient(server.URL, "").ListTemplates()
	require.NoError(t, err)
}

func TestLabClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Lab not found", Code: "404"})
	}))
	defer server.Close()

	_, err := NewLabClient(server.URL, "tok").GetLab("ghost")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Lab not found", apiErr.Message)
	assert.True(t, IsNotFound(err))
}

func TestLabClient_PlainErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewLabClient(server.URL, "").ListTemplates()

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Too Many Requests", apiErr.Message)
	assert.False(t, IsNotFound(err))
}

func TestLabClient_CreateLabEscapesTemplate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/templates/odd%20name/labs", r.URL.EscapedPath())
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.CreateLabResponse{ID: "odd name-1", Status: api.Accepted})
	}))
	defer server.Close()

	resp, err := NewLabClient(server.URL, "").CreateLab("odd name", api.CreateLabRequest{})
	require.NoError(t, err)
	assert.Equal(t, api.Accepted, resp.Status)
}

func TestLabClient_UnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 where 202 is expected
		json.NewEncoder(w).Encode(api.DeleteLabResponse{})
	}))
	defer server.Close()

	_, err := NewLabClient(server.URL, "").DeleteLab("demo-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusOK, apiErr.StatusCode)
}

func TestFormatPorts(t *testing.T) {
	assert.Equal(t, "-", formatPorts(nil))
	assert.Equal(t, "8080->80/tcp, 53/udp", formatPorts([]api.PortBinding{
		{HostPort: 8080, ContainerPort: 80, Protocol: "tcp"},
		{ContainerPort: 53, Protocol: "udp"},
	}))
}
