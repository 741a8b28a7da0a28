// Package attachment turns request attachments into message content.
//
// Images become image blocks, PDFs are reduced to their text, and anything
// else is reported back to the model as a note. Images and PDFs are also
// copied to blob storage so tools can later link them to records by path.
package attachment

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"receiptly/config"
	"receiptly/model"
	"receiptly/storage"
)

const (
	// MinPDFTextLength is the number of non-space characters below which a
	// PDF is treated as having no usable text.
	MinPDFTextLength = 20

	// MaxPDFTextLength caps the extracted text kept per PDF, in runes.
	MaxPDFTextLength = 50000

	// DefaultInstruction is sent when the user supplied nothing else usable.
	DefaultInstruction = "Please review the attached file(s) and tell me what you can do with them."
)

// Uploader stores attachment bytes. storage.BlobStore satisfies it.
type Uploader interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// PDFExtractor returns the plain text of a PDF document.
type PDFExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// Result is the outcome of BuildMessageContent.
type Result struct {
	Content       model.Content
	UploadedFiles []model.UploadedFile
	Notes         []string
	Kinds         []model.AttachmentKind
}

// Preprocessor builds the content of one user message.
type Preprocessor struct {
	uploader Uploader
	pdf      PDFExtractor
	now      func() time.Time
}

type Option func(*Preprocessor)

// WithClock overrides the time used in upload paths.
func WithClock(now func() time.Time) Option {
	return func(p *Preprocessor) { p.now = now }
}

// New returns a Preprocessor. A nil uploader disables uploads; a nil
// extractor uses PDFTextExtractor.
func New(uploader Uploader, pdf PDFExtractor, opts ...Option) *Preprocessor {
	if pdf == nil {
		pdf = PDFTextExtractor{}
	}
	p := &Preprocessor{uploader: uploader, pdf: pdf, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type pdfSection struct {
	name string
	text string
}

// BuildMessageContent converts text plus attachments into message content.
// Attachment problems never fail the call; they end up in Notes and in the
// text sent to the model. The only error is a cancelled ctx.
func (p *Preprocessor) BuildMessageContent(ctx context.Context, userID, text string, attachments []model.Attachment) (Result, error) {
	if len(attachments) == 0 {
		return Result{Content: model.TextContent(text)}, nil
	}

	var (
		res    Result
		images []model.ContentBlock
		pdfs   []pdfSection
	)

	for _, att := range attachments {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		kind := model.ClassifyAttachment(att.Name, att.Type)
		res.Kinds = append(res.Kinds, kind)

		if kind == model.AttachmentUnsupported {
			res.Notes = append(res.Notes, unsupportedNote(att))
			continue
		}

		data, err := decodeBase64(att.Data)
		if err != nil || len(data) == 0 {
			slog.Warn("[Attachment] could not decode attachment", "name", att.Name, "error", err)
			res.Notes = append(res.Notes, fmt.Sprintf("%s: the file could not be read.", displayName(att.Name)))
			continue
		}

		if f, ok := p.upload(ctx, userID, att, data); ok {
			res.UploadedFiles = append(res.UploadedFiles, f)
		}

		switch kind {
		case model.AttachmentImage:
			img := toImageBlock(att, data)
			images = append(images, img)
		case model.AttachmentPDF:
			extracted, err := p.pdf.ExtractText(ctx, data)
			if err != nil {
				slog.Warn("[Attachment] PDF text extraction failed", "name", att.Name, "error", err)
			}
			if err != nil || countNonSpace(extracted) < MinPDFTextLength {
				res.Notes = append(res.Notes, fmt.Sprintf(
					"%s: unsupported PDF, no readable text was found (it may be a scanned image).", displayName(att.Name)))
				continue
			}
			pdfs = append(pdfs, pdfSection{name: displayName(att.Name), text: truncateRunes(strings.TrimSpace(extracted), MaxPDFTextLength)})
		}
	}

	body := composeText(text, pdfs, res.Notes, res.UploadedFiles, len(images) > 0)
	if len(images) == 0 {
		res.Content = model.TextContent(body)
		return res, nil
	}

	blocks := append(images, model.TextBlock{Text: body})
	res.Content = model.BlockContent(blocks...)
	return res, nil
}

func (p *Preprocessor) upload(ctx context.Context, userID string, att model.Attachment, data []byte) (model.UploadedFile, bool) {
	if p.uploader == nil {
		return model.UploadedFile{}, false
	}
	name := displayName(att.Name)
	fileType := uploadType(att)
	key := storage.BlobPath(userID, name, p.now())
	if err := p.uploader.Put(ctx, key, data, fileType); err != nil {
		slog.Warn("[Attachment] upload failed, continuing without stored copy", "name", name, "error", err)
		return model.UploadedFile{}, false
	}
	if config.Debug {
		slog.Debug("[Attachment] uploaded", "path", key, "bytes", len(data))
	}
	return model.UploadedFile{
		StoragePath: key,
		FileName:    name,
		FileType:    fileType,
		FileSize:    int64(len(data)),
	}, true
}

// composeText assembles the outgoing text. The default instruction stands in
// for the user's text when nothing else carries a request.
func composeText(text string, pdfs []pdfSection, notes []string, uploaded []model.UploadedFile, hasImages bool) string {
	var parts []string

	text = strings.TrimSpace(text)
	if text == "" && len(pdfs) == 0 && !hasImages {
		text = DefaultInstruction
	}
	if text != "" {
		parts = append(parts, text)
	}

	for _, s := range pdfs {
		parts = append(parts, fmt.Sprintf("--- Begin %s ---\n%s\n--- End %s ---", s.name, s.text, s.name))
	}

	if len(notes) > 0 {
		var b strings.Builder
		b.WriteString("[Attachment notes]")
		for _, n := range notes {
			b.WriteString("\n- ")
			b.WriteString(n)
		}
		parts = append(parts, b.String())
	}

	if len(uploaded) > 0 {
		parts = append(parts, FormatUploadedFiles(uploaded))
	}

	return strings.Join(parts, "\n\n")
}

// FormatUploadedFiles renders the block that tells the model which stored
// files it may reference by storagePath.
func FormatUploadedFiles(files []model.UploadedFile) string {
	var b strings.Builder
	b.WriteString("[Uploaded files]")
	for _, f := range files {
		fmt.Fprintf(&b, "\n- storagePath: %s, fileName: %s, fileType: %s, fileSize: %d",
			f.StoragePath, f.FileName, f.FileType, f.FileSize)
	}
	return b.String()
}

func unsupportedNote(att model.Attachment) string {
	t := strings.TrimSpace(att.Type)
	if t == "" {
		t = "unknown type"
	}
	return fmt.Sprintf("%s: unsupported file type (%s), only images and PDFs can be read.", displayName(att.Name), t)
}

func uploadType(att model.Attachment) string {
	if model.ClassifyAttachment(att.Name, att.Type) == model.AttachmentPDF {
		return "application/pdf"
	}
	return model.NormalizeImageMediaType(att.Name, att.Type)
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "attachment"
	}
	return name
}

// decodeBase64 accepts plain base64 or a data: URL.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == max {
			return s[:pos] + "\n[truncated]"
		}
		i++
	}
	return s
}

// DecodedSize estimates the byte size of a base64 or data: URL payload
// without decoding it.
func DecodedSize(s string) int64 {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	n := int64(len(strings.TrimRight(strings.TrimSpace(s), "=")))
	return n * 3 / 4
}
