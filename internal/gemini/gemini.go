// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package gemini sends page images to a Gemini vision model and returns its
// JSON text reply. Two backends share one contract: the public Gemini API
// (API key, REST) and Vertex AI (project credentials).
//
// Both ask for application/json output at temperature 0. Images above
// InlineSizeLimit are uploaded first and referenced by URI.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"google.golang.org/api/googleapi"
)

// InlineSizeLimit is the largest image sent inline with a request.
const InlineSizeLimit = 18 * 1024 * 1024

const mimePNG = "image/png"

// inlineLimit is InlineSizeLimit as a variable for test substitution.
var inlineLimit int64 = InlineSizeLimit

// apiBaseURL is the Gemini API root. Package-level var for test substitution.
var apiBaseURL = "https://generativelanguage.googleapis.com"

// Client calls the Gemini API generateContent method with an API key.
type Client struct {
	APIKey string
	Model  string
	HTTP   *http.Client

	// uploads caches Files API URIs by local path so retries reuse them.
	uploads map[string]string
}

// NewClient returns a REST client for model.
func NewClient(apiKey, model string) *Client {
	return &Client{APIKey: apiKey, Model: model, HTTP: http.DefaultClient}
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
	FileData   *fileData   `json:"fileData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type fileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMIMEType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// Generate sends the image at imagePath with prompt and returns the reply
// text. HTTP failures are returned as *googleapi.Error so callers can read
// the status code and error details.
func (c *Client) Generate(ctx context.Context, imagePath, prompt string) (string, error) {
	image, err := c.imagePart(ctx, imagePath)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{image, {Text: prompt}},
		}},
		GenerationConfig: generationConfig{ResponseMIMEType: "application/json", Temperature: 0},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", apiBaseURL, c.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.APIKey)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("calling Gemini API: %w", err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return "", fmt.Errorf("calling Gemini API: %w", err)
	}

	var gResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gResp); err != nil {
		return "", fmt.Errorf("decoding Gemini response: %w", err)
	}
	if gResp.PromptFeedback != nil && gResp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("Gemini blocked the prompt: %s", gResp.PromptFeedback.BlockReason)
	}
	if len(gResp.Candidates) == 0 {
		return "", nil
	}

	var text strings.Builder
	for _, p := range gResp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return text.String(), nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

// imagePart inlines small images and uploads large ones.
func (c *Client) imagePart(ctx context.Context, imagePath string) (part, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return part{}, fmt.Errorf("reading image %s: %w", imagePath, err)
	}

	if info.Size() > inlineLimit {
		uri, err := c.upload(ctx, imagePath, info.Size())
		if err != nil {
			return part{}, err
		}
		return part{FileData: &fileData{MIMEType: mimePNG, FileURI: uri}}, nil
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return part{}, fmt.Errorf("reading image %s: %w", imagePath, err)
	}
	return part{InlineData: &inlineData{MIMEType: mimePNG, Data: base64.StdEncoding.EncodeToString(data)}}, nil
}

// upload sends the image through the Files API resumable protocol and
// returns the file URI.
func (c *Client) upload(ctx context.Context, imagePath string, size int64) (string, error) {
	if uri, ok := c.uploads[imagePath]; ok {
		return uri, nil
	}

	meta, err := json.Marshal(map[string]any{"file": map[string]string{"display_name": filepath.Base(imagePath)}})
	if err != nil {
		return "", fmt.Errorf("marshaling upload metadata: %w", err)
	}
	start, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBaseURL+"/upload/v1beta/files", bytes.NewReader(meta))
	if err != nil {
		return "", fmt.Errorf("creating upload request: %w", err)
	}
	start.Header.Set("x-goog-api-key", c.APIKey)
	start.Header.Set("Content-Type", "application/json")
	start.Header.Set("X-Goog-Upload-Protocol", "resumable")
	start.Header.Set("X-Goog-Upload-Command", "start")
	start.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.FormatInt(size, 10))
	start.Header.Set("X-Goog-Upload-Header-Content-Type", mimePNG)

	resp, err := c.httpClient().Do(start)
	if err != nil {
		return "", fmt.Errorf("starting upload of %s: %w", imagePath, err)
	}
	err = googleapi.CheckResponse(resp)
	resp.Body.Close()
	if err != nil {
		return "", fmt.Errorf("starting upload of %s: %w", imagePath, err)
	}
	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return "", fmt.Errorf("starting upload of %s: no upload URL returned", imagePath)
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("opening image %s: %w", imagePath, err)
	}
	defer f.Close()

	put, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, f)
	if err != nil {
		return "", fmt.Errorf("creating upload request: %w", err)
	}
	put.ContentLength = size
	put.Header.Set("X-Goog-Upload-Offset", "0")
	put.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	resp, err = c.httpClient().Do(put)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", imagePath, err)
	}
	defer resp.Body.Close()
	if err := googleapi.CheckResponse(resp); err != nil {
		return "", fmt.Errorf("uploading %s: %w", imagePath, err)
	}

	var uploaded struct {
		File struct {
			URI string `json:"uri"`
		} `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if uploaded.File.URI == "" {
		return "", fmt.Errorf("upload of %s returned no file URI", imagePath)
	}

	if c.uploads == nil {
		c.uploads = make(map[string]string)
	}
	c.uploads[imagePath] = uploaded.File.URI
	return uploaded.File.URI, nil
}
