// Package media uploads image attachments and profile pictures to the
// hosted object store and returns public download URLs.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Folders objects are filed under. The folder determines lifecycle and
// access rules on the backend, not the client.
const (
	FolderChatImages  = "chatImages"
	FolderProfilePics = "profilePics"
)

// Uploader stores a blob and returns a URL anyone with the link can read.
type Uploader interface {
	Upload(ctx context.Context, folder string, r io.Reader) (string, error)
}

// Client is an Uploader over the object store's JSON API.
type Client struct {
	hc      *resty.Client
	baseURL string
}

// NewClient creates an uploader for the given object store base URL.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	return &Client{
		hc:      resty.New().SetBaseURL(base).SetTimeout(60 * time.Second),
		baseURL: base,
	}
}

// Upload stores the blob under a fresh random name in folder.
func (c *Client) Upload(ctx context.Context, folder string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	name := folder + "/" + uuid.New().String()

	resp, err := c.hc.R().
		SetContext(ctx).
		SetQueryParam("name", name).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		Post("/o")
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("upload %s: status %d", name, resp.StatusCode())
	}

	var out struct {
		DownloadTokens string `json:"downloadTokens"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("upload %s: decode response: %w", name, err)
	}

	download := c.baseURL + "/o/" + url.PathEscape(name) + "?alt=media"
	if out.DownloadTokens != "" {
		download += "&token=" + url.QueryEscape(out.DownloadTokens)
	}
	return download, nil
}
