// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/pdiddy/paperstruct/internal/pdflayout"
	"github.com/pdiddy/paperstruct/pkg/types"
)

// LayerResult is the raw output of one extraction layer for one page.
type LayerResult struct {
	Text string

	// Confidence is the engine's own confidence in [0,1], reported only by OCR.
	Confidence *float64
}

// Layer is one text-extraction technology.
type Layer interface {
	// Method names the technology recorded on the resulting PageText.
	Method() types.ExtractionMethod

	// Available reports whether the layer can run on this machine.
	Available() bool

	// ExtractPage returns the text of the 1-based page pageNum.
	ExtractPage(ctx context.Context, path string, pageNum int) (LayerResult, error)
}

// executor abstracts command execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// osExecutor is the production executor backed by os/exec.
type osExecutor struct{}

func (osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (osExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, err
}

// NativeLayer reads the PDF's own text objects and orders them by position,
// splitting two-column pages into left then right column.
type NativeLayer struct{}

func (NativeLayer) Method() types.ExtractionMethod { return types.MethodNative }

func (NativeLayer) Available() bool { return true }

func (NativeLayer) ExtractPage(_ context.Context, path string, pageNum int) (LayerResult, error) {
	pg, err := pdflayout.ReadPage(path, pageNum)
	if err != nil {
		return LayerResult{}, err
	}
	return LayerResult{Text: pg.Text()}, nil
}

const (
	binPdftotext = "pdftotext"
	binPdftoppm  = "pdftoppm"
)

// ExternalToolLayer shells out to pdftotext, constrained to one page, with
// UTF-8 output and layout preserved.
type ExternalToolLayer struct {
	exec executor
}

// NewExternalToolLayer returns a pdftotext-backed layer.
func NewExternalToolLayer() *ExternalToolLayer {
	return &ExternalToolLayer{exec: osExecutor{}}
}

func (l *ExternalToolLayer) Method() types.ExtractionMethod { return types.MethodExternalTool }

func (l *ExternalToolLayer) Available() bool {
	_, err := l.exec.LookPath(binPdftotext)
	return err == nil
}

func (l *ExternalToolLayer) ExtractPage(ctx context.Context, path string, pageNum int) (LayerResult, error) {
	n := strconv.Itoa(pageNum)
	out, err := l.exec.Output(ctx, binPdftotext, "-f", n, "-l", n, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		return LayerResult{}, fmt.Errorf("pdftotext page %d: %w", pageNum, err)
	}
	return LayerResult{Text: strings.TrimRight(string(out), "\f\n")}, nil
}

// Recognizer turns a rendered page image into text.
type Recognizer interface {
	// Recognize returns the text of the image and the mean word confidence
	// in [0,1].
	Recognize(imagePath string) (string, float64, error)
}

// Tesseract is a Recognizer backed by gosseract.
type Tesseract struct {
	Languages []string
}

// Recognize runs tesseract over imagePath.
func (t Tesseract) Recognize(imagePath string) (string, float64, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if len(t.Languages) > 0 {
		if err := client.SetLanguage(t.Languages...); err != nil {
			return "", 0, fmt.Errorf("setting OCR language: %w", err)
		}
	}
	if err := client.SetImage(imagePath); err != nil {
		return "", 0, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", 0, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return text, 0, nil
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return text, sum / float64(len(boxes)) / 100, nil
}

// OCRLayer renders a page with pdftoppm and recognises the image.
type OCRLayer struct {
	DPI        int
	exec       executor
	recognizer Recognizer
}

// NewOCRLayer returns an OCR layer rendering at dpi with tesseract in the
// given language.
func NewOCRLayer(dpi int, language string) *OCRLayer {
	if dpi <= 0 {
		dpi = 300
	}
	var langs []string
	if language != "" {
		langs = strings.Split(language, "+")
	}
	return &OCRLayer{DPI: dpi, exec: osExecutor{}, recognizer: Tesseract{Languages: langs}}
}

func (l *OCRLayer) Method() types.ExtractionMethod { return types.MethodOCR }

func (l *OCRLayer) Available() bool {
	if _, err := l.exec.LookPath(binPdftoppm); err != nil {
		return false
	}
	if _, ok := l.recognizer.(Tesseract); ok {
		if _, err := l.exec.LookPath("tesseract"); err != nil {
			return false
		}
	}
	return true
}

// ExtractPage renders pageNum to a PNG in a temporary directory and OCRs it.
func (l *OCRLayer) ExtractPage(ctx context.Context, path string, pageNum int) (LayerResult, error) {
	dir, err := os.MkdirTemp("", "paperstruct-ocr-*")
	if err != nil {
		return LayerResult{}, fmt.Errorf("creating render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	n := strconv.Itoa(pageNum)
	prefix := filepath.Join(dir, "page")
	if _, err := l.exec.Output(ctx, binPdftoppm, "-f", n, "-l", n, "-r", strconv.Itoa(l.DPI), "-png", "-singlefile", path, prefix); err != nil {
		return LayerResult{}, fmt.Errorf("rendering page %d: %w", pageNum, err)
	}

	text, conf, err := l.recognizer.Recognize(prefix + ".png")
	if err != nil {
		return LayerResult{}, fmt.Errorf("OCR page %d: %w", pageNum, err)
	}
	return LayerResult{Text: text, Confidence: &conf}, nil
}

// DefaultLayers returns the layer chain enabled by cfg: native, then
// pdftotext, then OCR.
func DefaultLayers(cfg types.ExtractionConfig) []Layer {
	layers := []Layer{NativeLayer{}}
	if cfg.EnableExternalTool {
		layers = append(layers, NewExternalToolLayer())
	}
	if cfg.EnableOCR {
		layers = append(layers, NewOCRLayer(cfg.OCRDPI, cfg.OCRLanguage))
	}
	return layers
}
