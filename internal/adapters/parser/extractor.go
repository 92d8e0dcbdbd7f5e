// Package parser turns uploaded attachments into plain text.
// Extractor implements ports.TextExtractor.
package parser

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/linyone/chatrag/internal/domain/entities"
)

const maxPDFPages = 20

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".bmp": true, ".tiff": true,
}

// Extractor reads PDF, DOCX, plain text and images (through the tesseract
// CLI). Failures come back as bracketed placeholder text.
type Extractor struct {
	tesseractCmd string
}

// NewExtractor creates an Extractor. An empty command uses "tesseract" from PATH.
func NewExtractor(tesseractCmd string) *Extractor {
	if tesseractCmd == "" {
		tesseractCmd = "tesseract"
	}
	return &Extractor{tesseractCmd: tesseractCmd}
}

// Extract implements ports.TextExtractor.
func (e *Extractor) Extract(ctx context.Context, f entities.Attachment) string {
	ct := strings.ToLower(f.ContentType)
	ext := strings.ToLower(filepath.Ext(f.Name))

	switch {
	case strings.HasPrefix(ct, "image/") || imageExts[ext]:
		text, err := e.ocr(ctx, f.Data)
		if err != nil {
			return fmt.Sprintf("[could not OCR image: %v]", err)
		}
		return text

	case ct == "application/pdf" || ext == ".pdf":
		text, err := readPDF(f.Data)
		if err != nil {
			return fmt.Sprintf("[could not read PDF: %v]", err)
		}
		return text

	case ct == "application/vnd.openxmlformats-officedocument.wordprocessingml.document" ||
		ct == "application/msword" || ext == ".docx":
		text, err := readDOCX(f.Data)
		if err != nil {
			return fmt.Sprintf("[could not read DOCX: %v]", err)
		}
		return text

	case strings.HasPrefix(ct, "text/") || ext == ".txt":
		return strings.ToValidUTF8(string(f.Data), "")
	}

	kind := ct
	if kind == "" {
		kind = f.Name
	}
	return fmt.Sprintf("[unsupported file type: %s]", kind)
}

func (e *Extractor) ocr(ctx context.Context, data []byte) (string, error) {
	cmd := exec.CommandContext(ctx, e.tesseractCmd, "stdin", "stdout")
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

func readPDF(data []byte) (text string, err error) {
	// the pdf package panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	n := r.NumPage()
	if n > maxPDFPages {
		n = maxPDFPages
	}
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		t, err := p.GetPlainText(nil)
		if err != nil {
			t = ""
		}
		pages = append(pages, t)
	}
	return strings.TrimSpace(strings.Join(pages, "\n")), nil
}
