package fal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const initiatePath = "/storage/upload/initiate"

type initiateRequest struct {
	ContentType string `json:"content_type"`
	FileName    string `json:"file_name"`
}

type initiateResponse struct {
	UploadURL string `json:"upload_url"`
	FileURL   string `json:"file_url"`
}

// Upload stores data in fal storage and returns its public URL. The upload is
// initiated with the file name and content type, then the bytes are PUT to
// the signed URL the API hands back.
func (c *Client) Upload(ctx context.Context, key, fileName, contentType string, data []byte) (string, error) {
	endpoint := c.cfg.StorageURL + initiatePath + "?" + url.Values{"storage_type": {"fal-cdn-v3"}}.Encode()

	var init initiateResponse
	if _, err := c.doJSON(ctx, "upload_initiate", http.MethodPost, endpoint, key,
		initiateRequest{ContentType: contentType, FileName: fileName}, &init); err != nil {
		return "", err
	}
	if init.UploadURL == "" || init.FileURL == "" {
		return "", fmt.Errorf("upload initiate returned no upload_url or file_url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, init.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := c.send(ctx, c.transferClient, "upload", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", &APIError{Op: "upload", StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))

	return init.FileURL, nil
}
