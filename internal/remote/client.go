// Package remote talks to a geosync server over HTTP.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"geosync/internal/geosync"
	"geosync/internal/model"
	"geosync/internal/multipart"
	"geosync/internal/server"
)

// Client implements geosync.Remote against the HTTP API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	chunkSize int
	logger    geosync.Logger
}

var _ geosync.Remote = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithChunkSize sets the multipart read chunk size.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l geosync.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a Client for the server at baseURL. A non-empty token is
// sent as a bearer token. timeout bounds the wait for response headers; the
// transfer of a body is not limited.
func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported remote url scheme %q", u.Scheme)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	var rt http.RoundTripper = transport
	if token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   transport,
		}
	}

	c := &Client{
		baseURL:   u,
		http:      &http.Client{Transport: rt},
		chunkSize: multipart.DefaultChunkSize,
		logger:    geosync.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(projectID, action string, query url.Values) string {
	u := *c.baseURL
	u.Path = u.Path + "/v1/project/" + url.PathEscape(projectID)
	if action != "" {
		u.Path += "/" + action
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a request and returns the response of a successful call. Error
// responses are turned into errors wrapping the geosync sentinel they stand for.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	c.logger.Debug("remote request", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "duration", time.Since(start))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

// Error is an error response of the server.
type Error struct {
	Status int
	Code   string
	Detail string
	err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("server returned %d %s", e.Status, e.Code)
}

func (e *Error) Unwrap() error { return e.err }

func decodeError(resp *http.Response) error {
	var body server.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &body); err != nil {
		body.Detail = fmt.Sprintf("server returned %s", resp.Status)
	}
	e := &Error{Status: resp.StatusCode, Code: body.Code, Detail: body.Detail, err: server.ErrorFor(body.Code)}
	if e.err == nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			e.err = geosync.ErrUnauthorized
		case http.StatusForbidden:
			e.err = geosync.ErrPermissionDenied
		case http.StatusRequestEntityTooLarge:
			e.err = geosync.ErrQuotaExceeded
		}
	}
	return e
}

func (c *Client) projectRequest(ctx context.Context, method, projectID string) (*model.ProjectInfo, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(projectID, "", nil), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeInfo(resp)
}

func decodeInfo(resp *http.Response) (*model.ProjectInfo, error) {
	var info model.ProjectInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding project info: %w", err)
	}
	return &info, nil
}

func (c *Client) ProjectInfo(ctx context.Context, projectID string) (*model.ProjectInfo, error) {
	return c.projectRequest(ctx, http.MethodGet, projectID)
}

func (c *Client) CreateProject(ctx context.Context, projectID string) (*model.ProjectInfo, error) {
	return c.projectRequest(ctx, http.MethodPost, projectID)
}

// multipartResponse returns a reader over a multipart response body.
func (c *Client) multipartResponse(resp *http.Response) (*multipart.Reader, error) {
	boundary, err := multipart.ParseBoundary(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	return multipart.NewReaderSize(resp.Body, boundary, c.chunkSize), nil
}

func (c *Client) Download(ctx context.Context, projectID, path string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(projectID, "download", url.Values{"path": {path}}), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	mr, err := c.multipartResponse(resp)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", path, err)
	}
	part, err := mr.NextPart()
	if err != nil {
		return fmt.Errorf("downloading %s: %w", path, err)
	}
	if part.Name != server.FieldFile {
		return fmt.Errorf("downloading %s: unexpected part %q", path, part.Name)
	}
	if _, err := io.Copy(w, part); err != nil {
		return fmt.Errorf("downloading %s: %w", path, err)
	}
	return nil
}

func (c *Client) DownloadDiffs(ctx context.Context, projectID, path string, since int, fn func(version int, r io.Reader) error) error {
	q := url.Values{"path": {path}, "since": {strconv.Itoa(since)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(projectID, "diffs", q), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	mr, err := c.multipartResponse(resp)
	if err != nil {
		return fmt.Errorf("downloading changesets of %s: %w", path, err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("downloading changesets of %s: %w", path, err)
		}
		version, err := server.ParseDiffFieldName(part.Name)
		if err != nil {
			return err
		}
		if err := fn(version, part); err != nil {
			return err
		}
	}
}

// Push streams the manifest followed by every body in one request. Bodies
// are opened one at a time as the request is written.
func (c *Client) Push(ctx context.Context, projectID string, preq *geosync.PushRequest) (*model.ProjectInfo, error) {
	manifest, err := json.Marshal(preq.Manifest)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}

	type body struct {
		field string
		file  geosync.PushFile
	}
	var bodies []body
	for _, f := range preq.Files {
		bodies = append(bodies, body{server.FieldFile, f})
	}
	for _, f := range preq.Diffs {
		bodies = append(bodies, body{server.FieldDiff, f})
	}

	i := -1
	src := multipart.FieldFunc(func() (*multipart.Field, error) {
		i++
		if i == 0 {
			return &multipart.Field{Name: server.FieldChanges, ContentType: "application/json", Data: manifest}, nil
		}
		if i > len(bodies) {
			return nil, io.EOF
		}
		b := bodies[i-1]
		rc, err := b.file.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", b.file.Path, err)
		}
		if b.field == server.FieldDiff {
			return &multipart.Field{Name: b.field, Filename: b.file.Path, ContentType: "application/octet-stream", Body: rc}, nil
		}
		return multipart.SniffField(b.field, b.file.Path, rc)
	})
	enc := multipart.NewEncoder(src)
	defer enc.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(projectID, "push", nil), enc)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", enc.ContentType())

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeInfo(resp)
}
