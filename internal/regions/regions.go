// Package regions finds diagram bounding boxes on rendered pages via the
// vision model and crops them out of the full-resolution page images.
package regions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"qingest/internal/extract"
	"qingest/internal/providers"
	"qingest/internal/raster"
)

// Region is a detected diagram bounding box in page-image pixel space.
type Region struct {
	Page          int                  `json:"page"`
	X             int                  `json:"x"`
	Y             int                  `json:"y"`
	Width         int                  `json:"width"`
	Height        int                  `json:"height"`
	Purpose       extract.ImagePurpose `json:"purpose"`
	QuestionIndex int                  `json:"question_index"`
	OptionLabel   string               `json:"option_label,omitempty"`

	// Suggested render attributes for the markdown embed, optional.
	RenderWidth  int    `json:"render_width,omitempty"`
	RenderHeight int    `json:"render_height,omitempty"`
	Position     string `json:"position,omitempty"`
	Alt          string `json:"alt,omitempty"`
}

// identifySchema constrains the region-identification output.
var identifySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"regions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"page": {"type": "integer"},
					"x": {"type": "integer"},
					"y": {"type": "integer"},
					"width": {"type": "integer"},
					"height": {"type": "integer"},
					"purpose": {"type": "string", "enum": ["question", "hint", "solution", "option"]},
					"question_index": {"type": "integer"},
					"option_label": {"type": ["string", "null"]},
					"alt": {"type": ["string", "null"]}
				},
				"required": ["page", "x", "y", "width", "height", "purpose", "question_index"]
			}
		}
	},
	"required": ["regions"]
}`)

const identifySystemPrompt = `You locate diagrams, figures, graphs, and chemical structures on scanned
exam pages. For each one, report its pixel bounding box, the 0-based index of
the question it belongs to (counting questions from the top of that page), and
whether it appears in the question body, a hint, a solution, or an answer
option. Ignore decorative elements, logos, and watermarks. Respond with
exactly one JSON object conforming to the provided schema.`

// Identifier delegates region detection to the vision model.
type Identifier struct {
	vision providers.VisionClient
	logger *slog.Logger
}

// NewIdentifier creates a region identifier.
func NewIdentifier(vision providers.VisionClient, logger *slog.Logger) *Identifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Identifier{vision: vision, logger: logger}
}

// Identify returns diagram regions across all pages. A parse failure is
// returned to the caller, who may proceed with zero images.
func (id *Identifier) Identify(ctx context.Context, pages []raster.PageImage) ([]Region, error) {
	images := make([][]byte, 0, len(pages))
	for _, p := range pages {
		images = append(images, p.PNG)
	}
	prompt := fmt.Sprintf(
		"These are pages 1..%d of an exam paper, in order. Each page image is %s. Report every diagram region.\n\nOutput schema:\n%s",
		len(pages), describeDims(pages), identifySchema,
	)

	result, err := id.vision.Generate(ctx, &providers.Request{
		System: identifySystemPrompt,
		Prompt: prompt,
		Images: images,
		Schema: identifySchema,
	})
	if err != nil {
		return nil, fmt.Errorf("region identification call failed: %w", err)
	}

	raw, err := providers.ExtractJSONObject(result.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse region response: %w", err)
	}

	var wire struct {
		Regions []Region `json:"regions"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode region response: %w", err)
	}

	id.logger.Info("identified diagram regions", "count", len(wire.Regions))
	return wire.Regions, nil
}

func describeDims(pages []raster.PageImage) string {
	if len(pages) == 0 {
		return "empty"
	}
	return fmt.Sprintf("%dx%d pixels", pages[0].Width, pages[0].Height)
}
