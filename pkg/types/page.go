// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// BBoxOrder is the axis order of every normalized bounding box exchanged
// with the model and written to markdown.
const BBoxOrder = "ymin,xmin,ymax,xmax"

// ImageRecord describes one figure crop extracted from a page raster.
type ImageRecord struct {
	// Label is the alt text of the crop link (defaults to img_NN).
	Label string `json:"label" yaml:"label"`

	// BBoxNorm is the bounding box in 0-1000 space, ordered per BBoxOrder.
	BBoxNorm []float64 `json:"bbox_norm" yaml:"bbox_norm"`

	BBoxOrder string `json:"bbox_order" yaml:"bbox_order"`

	// CropPath is the filesystem path of the written crop.
	CropPath string `json:"crop_path" yaml:"crop_path"`
}

// SectionSummary reports the outcome of parsing one section PDF.
type SectionSummary struct {
	Section         string                `json:"section" yaml:"section"`
	SourcePDF       string                `json:"source_pdf" yaml:"source_pdf"`
	Pages           int                   `json:"pages" yaml:"pages"`
	ImagesDir       string                `json:"images_dir" yaml:"images_dir"`
	CropsDir        string                `json:"crops_dir" yaml:"crops_dir"`
	Markdown        string                `json:"markdown" yaml:"markdown"`
	PageMarkdownDir string                `json:"page_markdown_dir" yaml:"page_markdown_dir"`
	TilePages       int                   `json:"tile_pages" yaml:"tile_pages"`
	BBoxOrder       string                `json:"bbox_order" yaml:"bbox_order"`
	ImageRecords    map[int][]ImageRecord `json:"image_records" yaml:"image_records"`
}
