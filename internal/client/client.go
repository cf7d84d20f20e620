// Package client talks to a codedrop server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// Share is the server's view of an uploaded file.
type Share struct {
	ShareCode           string    `json:"share_code"`
	FileName            string    `json:"file_name"`
	FileSize            int64     `json:"file_size"`
	MimeType            string    `json:"mime_type"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	IsPasswordProtected bool      `json:"is_password_protected"`
	DownloadsCount      int       `json:"downloads_count"`
	DownloadURL         string    `json:"download_url,omitempty"`
}

// File is a downloaded share.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
}

// SendOptions are the optional upload fields.
type SendOptions struct {
	Code     string
	Password string
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Send uploads b and returns the created share.
func (c *Client) Send(ctx context.Context, b *Bundle, opts SendOptions) (*Share, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": b.Name,
	}))
	h.Set("Content-Type", b.MimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(b.Data); err != nil {
		return nil, err
	}
	for k, v := range map[string]string{"code": opts.Code, "password": opts.Password} {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var share Share
	if err := c.doJSON(req, &share); err != nil {
		return nil, err
	}
	return &share, nil
}

// Info returns the metadata of a share.
func (c *Client) Info(ctx context.Context, code, password string) (*Share, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.shareURL("/api/files/", code, password), nil)
	if err != nil {
		return nil, err
	}
	var share Share
	if err := c.doJSON(req, &share); err != nil {
		return nil, err
	}
	return &share, nil
}

// Get downloads the plaintext of a share.
func (c *Client) Get(ctx context.Context, code, password string) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.shareURL("/api/download/", code, password), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read download: %w", err)
	}

	f := &File{Name: code, MimeType: resp.Header.Get("Content-Type"), Data: data}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		f.Name = params["filename"]
	}
	return f, nil
}

func (c *Client) shareURL(route, code, password string) string {
	u := c.baseURL + route + url.PathEscape(code)
	if password != "" {
		u += "?" + url.Values{"password": {password}}.Encode()
	}
	return u
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(apiErr)
	return apiErr
}
