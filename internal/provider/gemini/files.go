package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// File describes a file uploaded through the File API. The URI goes into
// prompt parts as FileData; Name is the handle used for deletion.
type File struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
}

type uploadResponse struct {
	File File `json:"file"`
}

// UploadFile uploads raw bytes through the File API and returns the file
// handle. Uploads are bound to the key that performed them, so callers
// must resolve prompt parts with the same key (use Pool.Peek for that).
func (c *Client) UploadFile(ctx context.Context, apiKey string, r io.Reader, mimeType, displayName string) (*File, error) {
	url := c.baseURL + "/upload/v1beta/files"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, r)
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mimeType)
	httpReq.Header.Set("x-goog-api-key", apiKey)
	httpReq.Header.Set("X-Goog-Upload-Protocol", "raw")
	if displayName != "" {
		httpReq.Header.Set("X-Goog-Upload-Header-Content-Disposition", "attachment; filename="+displayName)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ClassifiedError{Type: ErrTimeout, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp)
	}

	var up uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return nil, &ClassifiedError{
			Type:    ErrMalformed,
			Message: fmt.Sprintf("parse upload response: %v", err),
		}
	}
	if up.File.URI == "" {
		return nil, &ClassifiedError{
			Type:    ErrMalformed,
			Message: "upload response contains no file URI",
		}
	}

	c.logger.Info("file uploaded", "name", up.File.Name, "mime", up.File.MIMEType)
	return &up.File, nil
}

// DeleteFile removes an uploaded file. Called when a newer attachment
// supersedes an older one for the same conversation. A missing file is
// not an error: the remote side garbage-collects uploads on its own.
func (c *Client) DeleteFile(ctx context.Context, apiKey, name string) error {
	url := fmt.Sprintf("%s/v1beta/%s", c.baseURL, name)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ClassifiedError{Type: ErrTimeout, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Warn("file already gone", "name", name)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return classifyHTTPError(resp)
	}

	c.logger.Info("file deleted", "name", name)
	return nil
}
