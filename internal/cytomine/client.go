// Package cytomine is a thin typed client for the Cytomine core REST API.
//
// It covers exactly the operations the migrator needs: fetch-by-id,
// filtered collection fetch, create, update, file download, image upload,
// credential switching (impersonation) and the admin-session toggle.
// Batching and pagination are the server's concern; every method is one
// logical call.
package cytomine

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Credentials is one principal's API key pair.
type Credentials struct {
	PublicKey  string
	PrivateKey string
}

// Client talks to one Cytomine instance. The active credentials can be
// swapped at runtime (impersonation); swaps are serialized, only one
// principal is active at a time.
type Client struct {
	host string
	http *http.Client
	log  *zap.Logger

	mu    sync.RWMutex
	creds Credentials
}

// NewClient returns a client for host (scheme optional, https assumed)
// authenticating with creds.
func NewClient(host string, creds Credentials, log *zap.Logger) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("cytomine: empty host")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	if _, err := url.Parse(host); err != nil {
		return nil, fmt.Errorf("cytomine: invalid host %q: %w", host, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		host:  strings.TrimRight(host, "/"),
		http:  &http.Client{Timeout: 5 * time.Minute},
		log:   log,
		creds: creds,
	}, nil
}

// Host returns the base URL of the instance.
func (c *Client) Host() string { return c.host }

// Credentials returns the currently active key pair.
func (c *Client) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// SetCredentials switches the active principal. All subsequent requests
// are signed with the new key pair.
func (c *Client) SetCredentials(creds Credentials) {
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
}

// OpenAdminSession elevates the current principal's session to admin.
func (c *Client) OpenAdminSession(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/session/admin/open.json", nil, nil)
	return err
}

// CloseAdminSession drops admin elevation.
func (c *Client) CloseAdminSession(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/session/admin/close.json", nil, nil)
	return err
}

// CurrentUser returns the principal behind the active credentials.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.getJSON(ctx, "/api/user/current.json", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// collection is the envelope Cytomine wraps every collection response in.
type collection struct {
	Collection json.RawMessage `json:"collection"`
	Size       int             `json:"size"`
}

// do issues one signed request and returns the response body. Non-2xx
// statuses are errors carrying the status and a body excerpt.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	full := c.host + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, full, reader)
	if err != nil {
		return nil, fmt.Errorf("cytomine: build request: %w", err)
	}

	contentType := ""
	if body != nil {
		contentType = "application/json"
		req.Header.Set("Content-Type", contentType)
	}
	c.sign(req, body, contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cytomine: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cytomine: read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cytomine: %s %s: HTTP %d: %s", method, path, resp.StatusCode, excerpt(data))
	}
	return data, nil
}

// sign adds the Cytomine HMAC authorization header: the private key signs
// "method\ncontent-md5\ncontent-type\ndate\npath" and the public key
// identifies the principal.
func (c *Client) sign(req *http.Request, body []byte, contentType string) {
	creds := c.Credentials()

	contentMD5 := ""
	if body != nil {
		sum := md5.Sum(body)
		contentMD5 = hex.EncodeToString(sum[:])
	}
	date := time.Now().UTC().Format(http.TimeFormat)

	canonical := strings.Join([]string{
		req.Method,
		contentMD5,
		contentType,
		date,
		req.URL.RequestURI(),
	}, "\n")

	mac := hmac.New(sha1.New, []byte(creds.PrivateKey))
	mac.Write([]byte(canonical))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("Date", date)
	if contentMD5 != "" {
		req.Header.Set("Content-MD5", contentMD5)
	}
	req.Header.Set("Authorization", fmt.Sprintf("CYTOMINE %s:%s", creds.PublicKey, signature))
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	data, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("cytomine: decode %s: %w", path, err)
	}
	return nil
}

// getCollection fetches a collection endpoint and decodes the inner
// "collection" array into out (a pointer to a slice).
func (c *Client) getCollection(ctx context.Context, path string, query url.Values, out interface{}) error {
	data, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	var envelope collection
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("cytomine: decode %s: %w", path, err)
	}
	if len(envelope.Collection) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Collection, out); err != nil {
		return fmt.Errorf("cytomine: decode %s collection: %w", path, err)
	}
	return nil
}

// postJSON creates an entity. Cytomine wraps the created entity in the
// response under the lowercase class name; wrapKey selects it, or "" to
// decode the raw body.
func (c *Client) postJSON(ctx context.Context, path string, in interface{}, wrapKey string, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("cytomine: encode %s: %w", path, err)
	}
	data, err := c.do(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeWrapped(data, wrapKey, out, path)
}

func (c *Client) putJSON(ctx context.Context, path string, in interface{}, wrapKey string, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("cytomine: encode %s: %w", path, err)
	}
	data, err := c.do(ctx, http.MethodPut, path, nil, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeWrapped(data, wrapKey, out, path)
}

func decodeWrapped(data []byte, wrapKey string, out interface{}, path string) error {
	if wrapKey != "" {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(data, &envelope); err == nil {
			if inner, ok := envelope[wrapKey]; ok {
				data = inner
			}
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("cytomine: decode %s response: %w", path, err)
	}
	return nil
}

func excerpt(data []byte) string {
	const max = 200
	s := strings.TrimSpace(string(data))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
