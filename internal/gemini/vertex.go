// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gemini

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"cloud.google.com/go/vertexai/genai"

	"github.com/pdiddy/pagemark/pkg/types"
)

// stagingPrefix is the object prefix for images staged in Cloud Storage.
const stagingPrefix = "pagemark"

// VertexClient calls Gemini through Vertex AI with application default
// credentials. Images above InlineSizeLimit are staged to StagingBucket and
// referenced by gs:// URI.
type VertexClient struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	storage *storage.Client
	bucket  string

	staged map[string]string
}

// NewVertexClient connects to Vertex AI in cfg.Project and cfg.Location.
func NewVertexClient(ctx context.Context, cfg types.AIConfig) (*VertexClient, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("vertex backend requires a project")
	}
	location := cfg.Location
	if location == "" {
		location = "us-central1"
	}

	client, err := genai.NewClient(ctx, cfg.Project, location)
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	v := &VertexClient{client: client, model: model, bucket: cfg.StagingBucket}
	if cfg.StagingBucket != "" {
		sc, err := storage.NewClient(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("creating storage client: %w", err)
		}
		v.storage = sc
	}
	return v, nil
}

// Generate sends the image and prompt to the model and returns the text of
// the first candidate.
func (v *VertexClient) Generate(ctx context.Context, imagePath, prompt string) (string, error) {
	image, err := v.imagePart(ctx, imagePath)
	if err != nil {
		return "", err
	}

	resp, err := v.model.GenerateContent(ctx, image, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	return responseText(resp), nil
}

// Close releases the Vertex AI and storage clients.
func (v *VertexClient) Close() error {
	if v.storage != nil {
		v.storage.Close()
	}
	return v.client.Close()
}

func (v *VertexClient) imagePart(ctx context.Context, imagePath string) (genai.Part, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", imagePath, err)
	}

	if info.Size() > inlineLimit {
		uri, err := v.stage(ctx, imagePath)
		if err != nil {
			return nil, err
		}
		return genai.FileData{MIMEType: mimePNG, FileURI: uri}, nil
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", imagePath, err)
	}
	return genai.ImageData("png", data), nil
}

// stage copies the image into the staging bucket once per path.
func (v *VertexClient) stage(ctx context.Context, imagePath string) (string, error) {
	if uri, ok := v.staged[imagePath]; ok {
		return uri, nil
	}
	if v.storage == nil {
		return "", fmt.Errorf("image %s exceeds the inline limit; set a staging bucket", imagePath)
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("opening image %s: %w", imagePath, err)
	}
	defer f.Close()

	name := stagedObjectName(imagePath)
	w := v.storage.Bucket(v.bucket).Object(name).NewWriter(ctx)
	w.ContentType = mimePNG
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("staging %s: %w", imagePath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("staging %s: %w", imagePath, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", v.bucket, name)
	if v.staged == nil {
		v.staged = make(map[string]string)
	}
	v.staged[imagePath] = uri
	return uri, nil
}

// stagedObjectName keys an image by its parent directory and file name,
// which keeps rasters of different sections apart.
func stagedObjectName(imagePath string) string {
	dir := filepath.Base(filepath.Dir(imagePath))
	return path.Join(stagingPrefix, dir, filepath.Base(imagePath))
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
