// Package catalog reads lab templates from a remote GitHub-hosted catalog.
//
// The catalog is a repository holding an index document (a JSON list of
// template entries) and one flat directory per template under a base path.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultLogo = "default_icon.png"

	maxFileSize = 16 << 20
)

var (
	ErrCatalogUnavailable     = errors.New("catalog unavailable")
	ErrCatalogFormatInvalid   = errors.New("catalog index format invalid")
	ErrCatalogEmpty           = errors.New("catalog is empty")
	ErrTemplateNotFound       = errors.New("template not found")
	ErrTemplateDownloadFailed = errors.New("template download failed")
)

// Template is one normalized catalog entry.
type Template struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Logo        string `json:"logo"`
	Category    string `json:"category"`
}

// Config locates the catalog repository.
type Config struct {
	RawBase       string
	APIBase       string
	Owner         string
	Repo          string
	Branch        string
	TemplatesPath string
	IndexFile     string
	// Token is sent as a bearer token when set.
	Token string
}

// DownloadResult lists what DownloadTemplate wrote and what it skipped.
type DownloadResult struct {
	Files       []string
	SkippedDirs []string
}

// Fetcher talks to the catalog over HTTP. Request timeouts come from the
// supplied client.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

type contentEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url"`
}

func New(cfg Config, client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{cfg: cfg, client: client, logger: logger}
}

func (f *Fetcher) indexURL() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s",
		strings.TrimRight(f.cfg.RawBase, "/"), f.cfg.Owner, f.cfg.Repo, f.cfg.Branch, f.cfg.IndexFile)
}

func (f *Fetcher) contentsURL(name string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s/%s",
		strings.TrimRight(f.cfg.APIBase, "/"), f.cfg.Owner, f.cfg.Repo, strings.Trim(f.cfg.TemplatesPath, "/"), name)
}

func (f *Fetcher) get(ctx context.Context, url string, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if f.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.Token)
	}
	return f.client.Do(req)
}

// ListCatalog fetches and normalizes the index. Entries that are not objects
// or have no name are skipped.
func (f *Fetcher) ListCatalog(ctx context.Context) ([]Template, error) {
	if f.cfg.Owner == "" || f.cfg.Repo == "" {
		return nil, fmt.Errorf("%w: catalog owner and repo are not configured", ErrCatalogUnavailable)
	}

	url := f.indexURL()
	resp, err := f.get(ctx, url, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s returned %d", ErrCatalogUnavailable, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read index: %v", ErrCatalogUnavailable, err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: expected a JSON list: %v", ErrCatalogFormatInvalid, err)
	}

	templates := make([]Template, 0, len(raw))
	for i, item := range raw {
		t, ok := normalize(item)
		if !ok {
			f.logger.Warn("skipping malformed catalog entry", "index", i)
			continue
		}
		templates = append(templates, t)
	}

	if len(templates) == 0 {
		return nil, ErrCatalogEmpty
	}
	return templates, nil
}

func normalize(item json.RawMessage) (Template, bool) {
	var fields map[string]any
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		return Template{}, false
	}

	name := stringField(fields, "name")
	if name == "" {
		return Template{}, false
	}

	t := Template{
		Name:        name,
		Title:       stringField(fields, "title"),
		Description: stringField(fields, "description"),
		Logo:        stringField(fields, "logo"),
		Category:    stringField(fields, "category"),
	}
	if t.Title == "" {
		t.Title = name
	}
	if t.Description == "" {
		t.Description = "Template for " + name
	}
	if t.Logo == "" {
		t.Logo = DefaultLogo
	}
	return t, true
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

// GetTemplate returns the catalog entry called name.
func (f *Fetcher) GetTemplate(ctx context.Context, name string) (*Template, error) {
	templates, err := f.ListCatalog(ctx)
	if err != nil {
		return nil, err
	}
	for i := range templates {
		if templates[i].Name == name {
			return &templates[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q in %s/%s", ErrTemplateNotFound, name, f.cfg.Owner, f.cfg.Repo)
}

// DownloadTemplate writes every file of the template directory into
// targetDir, overwriting existing files. Subdirectories are not supported;
// they are skipped and reported in the result. Files already written are left
// in place when a later one fails.
func (f *Fetcher) DownloadTemplate(ctx context.Context, name, targetDir string) (*DownloadResult, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, fmt.Errorf("%w: invalid template name %q", ErrTemplateNotFound, name)
	}

	url := f.contentsURL(name)
	resp, err := f.get(ctx, url, "application/vnd.github+json")
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrTemplateDownloadFailed, url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: template directory %q not found at %s", ErrTemplateNotFound, name, url)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: list %s returned %d", ErrTemplateDownloadFailed, url, resp.StatusCode)
	}

	var entries []contentEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: unexpected contents listing for %q: %v", ErrTemplateDownloadFailed, name, err)
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrTemplateDownloadFailed, targetDir, err)
	}

	result := &DownloadResult{}
	for _, entry := range entries {
		switch entry.Type {
		case "file":
			if err := f.downloadFile(ctx, entry, targetDir); err != nil {
				return result, err
			}
			result.Files = append(result.Files, entry.Name)
		case "dir":
			f.logger.Warn("skipping template subdirectory",
				"template", name,
				"path", entry.Path,
			)
			result.SkippedDirs = append(result.SkippedDirs, entry.Path)
		default:
			f.logger.Debug("ignoring template entry", "template", name, "path", entry.Path, "type", entry.Type)
		}
	}

	return result, nil
}

func (f *Fetcher) downloadFile(ctx context.Context, entry contentEntry, targetDir string) error {
	if entry.Name == "" || entry.Name != filepath.Base(entry.Name) || strings.ContainsAny(entry.Name, `/\`) || entry.Name == ".." {
		return fmt.Errorf("%w: refusing file name %q", ErrTemplateDownloadFailed, entry.Name)
	}
	if entry.DownloadURL == "" {
		return fmt.Errorf("%w: %s has no download url", ErrTemplateDownloadFailed, entry.Path)
	}

	resp, err := f.get(ctx, entry.DownloadURL, "")
	if err != nil {
		return fmt.Errorf("%w: fetch %s: %v", ErrTemplateDownloadFailed, entry.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: fetch %s returned %d", ErrTemplateDownloadFailed, entry.Path, resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize+1))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrTemplateDownloadFailed, entry.Path, err)
	}
	if len(content) > maxFileSize {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrTemplateDownloadFailed, entry.Path, maxFileSize)
	}

	dest := filepath.Join(targetDir, entry.Name)
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrTemplateDownloadFailed, dest, err)
	}

	f.logger.Debug("downloaded template file", "path", entry.Path, "dest", dest, "bytes", len(content))
	return nil
}
