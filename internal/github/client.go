// Package github implements docs.ContentStore on top of the Git hosting
// contents API: every file is read, created, updated and deleted as a commit
// on one branch, and the blob sha is the version token.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"custdoc/internal/docs"
)

const (
	DefaultAPIBase = "https://api.github.com/repos"
	DefaultBranch  = "main"
	APIVersion     = "2022-11-28"

	mediaTypeJSON = "application/vnd.github+json"
	mediaTypeRaw  = "application/vnd.github.raw"
)

// Options configures a Client.
type Options struct {
	APIBase    string
	Owner      string
	Repo       string
	Branch     string
	Token      string
	UserAgent  string
	Timeout    time.Duration // per call; zero disables
	HTTPClient *http.Client
	Logger     docs.Logger
}

// Client is the remote content store client.
type Client struct {
	http      *http.Client
	apiBase   string
	owner     string
	repo      string
	branch    string
	token     string
	userAgent string
	timeout   time.Duration
	logger    docs.Logger
}

// NewClient creates a client for one repository and branch.
func NewClient(opts Options) *Client {
	c := &Client{
		http:      opts.HTTPClient,
		apiBase:   strings.TrimRight(opts.APIBase, "/"),
		owner:     opts.Owner,
		repo:      opts.Repo,
		branch:    opts.Branch,
		token:     opts.Token,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.apiBase == "" {
		c.apiBase = DefaultAPIBase
	}
	if c.branch == "" {
		c.branch = DefaultBranch
	}
	if c.userAgent == "" {
		c.userAgent = "custdoc"
	}
	if c.logger == nil {
		c.logger = docs.NewNopLogger()
	}
	c.logger = c.logger.With("component", "github", "repo", c.owner+"/"+c.repo)
	return c
}

// contentEntry is the file object returned by GET and nested in PUT responses.
type contentEntry struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
	SHA      string `json:"sha"`
}

type writeRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type writeResponse struct {
	Content *contentEntry `json:"content"`
}

type deleteRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// ReadFile returns the decoded content of path and its blob sha.
func (c *Client) ReadFile(ctx context.Context, path string) ([]byte, string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	entry, err := c.get(ctx, path)
	if err != nil {
		return nil, "", err
	}

	if entry.Encoding == "base64" {
		data, err := decodeContent(entry.Content)
		if err != nil {
			return nil, "", fmt.Errorf("decoding %s: %w", path, err)
		}
		return data, entry.SHA, nil
	}

	// Large files come back without inline content. The sha belongs to the
	// metadata response; a commit landing before the raw fetch shows up as a
	// size mismatch.
	c.logger.Debug("fetching raw content", "path", path, "size", entry.Size)
	data, err := c.getRaw(ctx, path)
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) != entry.Size {
		return nil, "", &docs.TransientError{
			Message: fmt.Sprintf("%s changed while reading: expected %d bytes, got %d", path, entry.Size, len(data)),
		}
	}
	return data, entry.SHA, nil
}

// WriteFile creates path when version is empty, otherwise updates it from
// version. It returns the new blob sha.
func (c *Client) WriteFile(ctx context.Context, path string, content []byte, version string, message string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body := writeRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  c.branch,
		SHA:     version,
	}
	resp, err := c.do(ctx, http.MethodPut, c.contentsURL(path, false), mediaTypeJSON, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnprocessableEntity && version == "":
		drain(resp.Body)
		return "", &docs.ConflictError{Path: path, Version: version}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", c.statusError(resp)
	}

	var out writeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding write response for %s: %w", path, err)
	}
	if out.Content == nil {
		return "", nil
	}
	c.logger.Debug("file written", "path", path, "sha", out.Content.SHA)
	return out.Content.SHA, nil
}

// DeleteFile resolves the current sha of path and deletes it.
func (c *Client) DeleteFile(ctx context.Context, path string, message string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	entry, err := c.get(ctx, path)
	if err != nil {
		return err
	}

	body := deleteRequest{Message: message, SHA: entry.SHA, Branch: c.branch}
	resp, err := c.do(ctx, http.MethodDelete, c.contentsURL(path, false), mediaTypeJSON, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		drain(resp.Body)
		return fmt.Errorf("%w: %s", docs.ErrNotFound, path)
	case resp.StatusCode == http.StatusConflict:
		drain(resp.Body)
		return &docs.ConflictError{Path: path, Version: entry.SHA}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return c.statusError(resp)
	}
	drain(resp.Body)
	c.logger.Debug("file deleted", "path", path)
	return nil
}

func (c *Client) get(ctx context.Context, path string) (*contentEntry, error) {
	resp, err := c.do(ctx, http.MethodGet, c.contentsURL(path, true), mediaTypeJSON, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		drain(resp.Body)
		return nil, fmt.Errorf("%w: %s", docs.ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response for %s: %w", path, err)
	}
	if len(raw) > 0 && raw[0] == '[' {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	var entry contentEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decoding response for %s: %w", path, err)
	}
	if entry.Type != "" && entry.Type != "file" {
		return nil, fmt.Errorf("%s is a %s, not a file", path, entry.Type)
	}
	return &entry, nil
}

func (c *Client) getRaw(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.contentsURL(path, true), mediaTypeRaw, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		drain(resp.Body)
		return nil, fmt.Errorf("%w: %s", docs.ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading raw content for %s: %w", path, err)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, u, accept string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", APIVersion)
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, ctxErr)
		}
		return nil, &docs.TransientError{Message: err.Error()}
	}
	return resp, nil
}

// statusError maps a non-2xx response that has no operation-specific meaning.
func (c *Client) statusError(resp *http.Response) error {
	msg := resp.Status
	var e errorResponse
	if b, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
		if json.Unmarshal(b, &e) == nil && e.Message != "" {
			msg = e.Message
		}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", docs.ErrUnauthorized, msg)
	}
	c.logger.Warn("remote request failed", "status", resp.StatusCode, "message", msg)
	return &docs.TransientError{StatusCode: resp.StatusCode, Message: msg}
}

func (c *Client) contentsURL(path string, withRef bool) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	u := fmt.Sprintf("%s/%s/%s/contents/%s",
		c.apiBase, url.PathEscape(c.owner), url.PathEscape(c.repo), strings.Join(segments, "/"))
	if withRef {
		u += "?ref=" + url.QueryEscape(c.branch)
	}
	return u
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// decodeContent decodes the line-wrapped base64 the API returns.
func decodeContent(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(clean)
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64<<10))
}

// Compile-time check that Client implements docs.ContentStore
var _ docs.ContentStore = (*Client)(nil)
