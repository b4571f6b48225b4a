package cytomine

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// IsNotFound reports whether err is an HTTP 404 from the gateway.
func IsNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "HTTP 404")
}

// DownloadImage streams the original bytes of an image instance to dest.
// An existing file at dest is kept as is.
func (c *Client) DownloadImage(ctx context.Context, imageID int64, dest string) error {
	return c.downloadFile(ctx, fmt.Sprintf("/api/imageinstance/%d/download", imageID), dest)
}

// DownloadAttachedFile streams an attached file's bytes to dest.
func (c *Client) DownloadAttachedFile(ctx context.Context, fileID int64, dest string) error {
	return c.downloadFile(ctx, fmt.Sprintf("/api/attachedfile/%d/download", fileID), dest)
}

// DownloadImageGroup streams an image group archive to dest.
func (c *Client) DownloadImageGroup(ctx context.Context, groupID int64, dest string) error {
	return c.downloadFile(ctx, fmt.Sprintf("/api/imagegroup/%d/download", groupID), dest)
}

func (c *Client) downloadFile(ctx context.Context, path, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("cytomine: create download dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+path, nil)
	if err != nil {
		return fmt.Errorf("cytomine: build download request: %w", err)
	}
	c.sign(req, nil, "")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cytomine: download %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cytomine: download %s: HTTP %d", path, resp.StatusCode)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("cytomine: create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("cytomine: write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cytomine: close %s: %w", dest, err)
	}
	return os.Rename(tmp, dest)
}

// UploadImage submits a local image file to the ingestion endpoint on
// uploadHost, destined for the given storage and project on the core
// host. The server deploys the image asynchronously; this returns as
// soon as the upload is accepted.
func (c *Client) UploadImage(ctx context.Context, uploadHost, path string, storageID, projectID int64) error {
	if !strings.HasPrefix(uploadHost, "http://") && !strings.HasPrefix(uploadHost, "https://") {
		uploadHost = "https://" + uploadHost
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cytomine: open upload file: %w", err)
	}
	defer file.Close()

	var body strings.Builder
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("files[]", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("cytomine: build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("cytomine: read upload file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("cytomine: finish upload form: %w", err)
	}

	query := url.Values{}
	query.Set("idStorage", fmt.Sprint(storageID))
	query.Set("idProject", fmt.Sprint(projectID))
	query.Set("core", c.host)

	creds := c.Credentials()
	full := strings.TrimRight(uploadHost, "/") + "/upload?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, full, strings.NewReader(body.String()))
	if err != nil {
		return fmt.Errorf("cytomine: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	// The upload service authenticates with bare keys, not HMAC.
	req.Header.Set("X-Cytomine-Public-Key", creds.PublicKey)
	req.Header.Set("X-Cytomine-Private-Key", creds.PrivateKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cytomine: upload %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cytomine: upload %s: HTTP %d: %s", filepath.Base(path), resp.StatusCode, excerpt(data))
	}
	return nil
}

// UploadAttachedFile attaches a local file to a domain object on the
// target instance.
func (c *Client) UploadAttachedFile(ctx context.Context, path, domainClassName string, domainIdent int64, filename string) (*AttachedFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cytomine: open attached file: %w", err)
	}
	defer file.Close()

	var body strings.Builder
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("files[]", filename)
	if err != nil {
		return nil, fmt.Errorf("cytomine: build attachment form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("cytomine: read attached file: %w", err)
	}
	if err := writer.WriteField("domainClassName", domainClassName); err != nil {
		return nil, fmt.Errorf("cytomine: build attachment form: %w", err)
	}
	if err := writer.WriteField("domainIdent", fmt.Sprint(domainIdent)); err != nil {
		return nil, fmt.Errorf("cytomine: build attachment form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("cytomine: finish attachment form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/attachedfile.json", strings.NewReader(body.String()))
	if err != nil {
		return nil, fmt.Errorf("cytomine: build attachment request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.sign(req, nil, writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cytomine: upload attachment %s: %w", filename, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cytomine: read attachment response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cytomine: upload attachment %s: HTTP %d: %s", filename, resp.StatusCode, excerpt(data))
	}

	var created AttachedFile
	if err := decodeWrapped(data, "attachedfile", &created, "/api/attachedfile.json"); err != nil {
		return nil, err
	}
	return &created, nil
}
