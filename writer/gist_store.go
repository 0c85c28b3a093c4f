package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appconfig "coinpulse/config"
)

const maxGistErrorBody = 512

// GistStore keeps the snapshot as one file of a GitHub gist.
type GistStore struct {
	baseURL     string
	token       string
	description string
	public      bool
	fileName    string
	http        *http.Client
}

var _ DocumentStore = (*GistStore)(nil)

func NewGistStore(cfg appconfig.GistConfig, fileName string) *GistStore {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.github.com"
	}
	return &GistStore{
		baseURL:     base,
		token:       cfg.Token,
		description: cfg.Description,
		public:      cfg.Public,
		fileName:    fileName,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *GistStore) Backend() string { return "gist" }

type gistFile struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
	RawURL    string `json:"raw_url,omitempty"`
}

type gistBody struct {
	ID          string              `json:"id,omitempty"`
	Description string              `json:"description,omitempty"`
	Public      *bool               `json:"public,omitempty"`
	Files       map[string]gistFile `json:"files"`
	UpdatedAt   *time.Time          `json:"updated_at,omitempty"`
}

func (s *GistStore) Get(ctx context.Context, id string) (*Document, error) {
	var body gistBody
	if err := s.do(ctx, http.MethodGet, "/gists/"+url.PathEscape(id), nil, &body); err != nil {
		return nil, err
	}
	file, ok := body.Files[s.fileName]
	if !ok {
		return nil, fmt.Errorf("gist %s has no %s: %w", id, s.fileName, ErrNotFound)
	}

	content := []byte(file.Content)
	// large files are cut off in the API response
	if file.Truncated && file.RawURL != "" {
		raw, err := s.fetchRaw(ctx, file.RawURL)
		if err != nil {
			return nil, err
		}
		content = raw
	}
	doc := &Document{ID: id, Content: content}
	if body.UpdatedAt != nil {
		doc.UpdatedAt = *body.UpdatedAt
	}
	return doc, nil
}

func (s *GistStore) Update(ctx context.Context, id string, content []byte) error {
	req := gistBody{Files: map[string]gistFile{s.fileName: {Content: string(content)}}}
	return s.do(ctx, http.MethodPatch, "/gists/"+url.PathEscape(id), req, nil)
}

func (s *GistStore) Create(ctx context.Context, content []byte) (string, error) {
	public := s.public
	req := gistBody{
		Description: s.description,
		Public:      &public,
		Files:       map[string]gistFile{s.fileName: {Content: string(content)}},
	}
	var out gistBody
	if err := s.do(ctx, http.MethodPost, "/gists", req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("gist create returned no id")
	}
	return out.ID, nil
}

func (s *GistStore) do(ctx context.Context, method, p string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode gist request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+p, body)
	if err != nil {
		return fmt.Errorf("build gist request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("gist %s %s: %w", method, p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("gist %s: %w", p, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxGistErrorBody))
		return fmt.Errorf("gist %s %s returned HTTP %d: %s", method, p, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gist response: %w", err)
	}
	return nil
}

func (s *GistStore) fetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build raw gist request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch raw gist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch raw gist returned HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
