// Package catalogtest serves a fake GitHub-hosted template catalog for tests.
package catalogtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"vlem/internal/catalog"
)

const (
	Owner  = "acme"
	Repo   = "lab-templates"
	Branch = "main"
)

// File is one entry of a template directory. Dir entries have no content.
type File struct {
	Name    string
	Content string
	Dir     bool
}

// Server is an httptest server with the raw-content and contents-API layout.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	index     string
	templates map[string][]File
	// IndexStatus, when non-zero, is returned for the index document.
	IndexStatus int
	// FileStatus, when non-zero, is returned for every raw file request.
	FileStatus int
}

// NewServer starts a catalog serving index and the given template directories.
// It is closed when the test ends.
func NewServer(t testing.TB, index string, templates map[string][]File) *Server {
	t.Helper()

	s := &Server{index: index, templates: templates}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /raw/{owner}/{repo}/{branch}/{file}", s.handleIndex)
	mux.HandleFunc("GET /api/repos/{owner}/{repo}/contents/templates/{name}", s.handleContents)
	mux.HandleFunc("GET /files/{name}/{file}", s.handleFile)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Config returns a catalog.Config pointing at the server.
func (s *Server) Config() catalog.Config {
	return catalog.Config{
		RawBase:       s.URL + "/raw",
		APIBase:       s.URL + "/api",
		Owner:         Owner,
		Repo:          Repo,
		Branch:        Branch,
		TemplatesPath: "templates",
		IndexFile:     "templates.json",
	}
}

// SetFile replaces or adds a file of a template.
func (s *Server) SetFile(template string, f File) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := s.templates[template]
	for i := range files {
		if files[i].Name == f.Name {
			files[i] = f
			return
		}
	}
	s.templates[template] = append(files, f)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("owner") != Owner || r.PathValue("repo") != Repo || r.PathValue("file") != "templates.json" {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IndexStatus != 0 {
		w.WriteHeader(s.IndexStatus)
		return
	}
	_, _ = w.Write([]byte(s.index))
}

func (s *Server) handleContents(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	s.mu.Lock()
	files, ok := s.templates[name]
	s.mu.Unlock()
	if !ok {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		return
	}

	entries := make([]map[string]any, 0, len(files))
	for _, f := range files {
		path := "templates/" + name + "/" + f.Name
		if f.Dir {
			entries = append(entries, map[string]any{
				"name": f.Name, "path": path, "type": "dir", "download_url": nil,
			})
			continue
		}
		entries = append(entries, map[string]any{
			"name":         f.Name,
			"path":         path,
			"type":         "file",
			"download_url": fmt.Sprintf("%s/files/%s/%s", s.URL, name, f.Name),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name, file := r.PathValue("name"), r.PathValue("file")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FileStatus != 0 {
		w.WriteHeader(s.FileStatus)
		return
	}
	for _, f := range s.templates[name] {
		if f.Name == file && !f.Dir {
			_, _ = w.Write([]byte(f.Content))
			return
		}
	}
	http.NotFound(w, r)
}
