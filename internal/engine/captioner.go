package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"time"

	"github.com/disintegration/imaging"

	"robot-diary/server/internal/prompts"
)

// NoImageMarker is the degraded caption stored when an image file cannot be
// read back. It is a normal result, not an error.
const NoImageMarker = "(no image)"

// Captioner produces the two-line timeline caption for a stored image.
type Captioner struct {
	gen      Generator
	tmpl     *prompts.TemplateEngine
	model    string
	maxWidth int
	timeout  time.Duration
}

func NewCaptioner(gen Generator, tmpl *prompts.TemplateEngine, model string, maxWidth int, timeout time.Duration) *Captioner {
	return &Captioner{
		gen:      gen,
		tmpl:     tmpl,
		model:    model,
		maxWidth: maxWidth,
		timeout:  timeout,
	}
}

// Caption reads the image at path, downscales it to a caption-friendly width,
// and asks the vision model for the two-line caption. An unreadable image
// yields NoImageMarker with no error; an endpoint failure is returned to the
// caller, which stores a marker string instead of failing the ingestion.
func (c *Captioner) Caption(ctx context.Context, path string) (string, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return NoImageMarker, nil
	}

	if c.maxWidth > 0 && img.Bounds().Dx() > c.maxWidth {
		img = imaging.Resize(img, c.maxWidth, 0, imaging.Box)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return NoImageMarker, nil
	}
	b64 := base64.StdEncoding.EncodeToString(buf.Bytes())

	prompt, err := c.tmpl.Render("caption", nil)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.gen.Generate(ctx, c.model, prompt, []string{b64})
}
