package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receiptly/model"
	"receiptly/provider/testutil"
	"receiptly/storage"
)

type fakeUploader struct {
	mu   sync.Mutex
	puts map[string][]byte
	fail bool
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{puts: map[string][]byte{}}
}

func (u *fakeUploader) Put(ctx context.Context, key string, data []byte, contentType string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail {
		return errors.New("bucket unavailable")
	}
	u.puts[key] = data
	return nil
}

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) ExtractText(ctx context.Context, data []byte) (string, error) {
	return f.text, f.err
}

var fixedNow = func() time.Time { return time.UnixMilli(1735689600000) }

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestNoAttachmentsKeepsText(t *testing.T) {
	p := New(newFakeUploader(), fakeExtractor{})
	res, err := p.BuildMessageContent(context.Background(), "u1", "hi", nil)
	require.NoError(t, err)
	assert.True(t, res.Content.IsText())
	assert.Equal(t, "hi", res.Content.Text)
	assert.Empty(t, res.UploadedFiles)
}

func TestOctetStreamJPEGBecomesImage(t *testing.T) {
	up := newFakeUploader()
	p := New(up, fakeExtractor{}, WithClock(fixedNow))

	res, err := p.BuildMessageContent(context.Background(), "u1", "what is this?", []model.Attachment{
		{Name: "receipt.jpg", Type: "application/octet-stream", Data: testutil.PNGBase64},
	})
	require.NoError(t, err)

	images := res.Content.Images()
	require.Len(t, images, 1)
	assert.Equal(t, "image/jpeg", images[0].MediaType)
	assert.Equal(t, testutil.PNGBase64, images[0].Data, "native images pass through untouched")

	require.Len(t, res.UploadedFiles, 1)
	f := res.UploadedFiles[0]
	assert.True(t, strings.HasPrefix(f.StoragePath, storage.UserPrefix("u1")+"/1735689600000-"), f.StoragePath)
	assert.True(t, strings.HasSuffix(f.StoragePath, "-receipt.jpg"), f.StoragePath)
	assert.Equal(t, "image/jpeg", f.FileType)
	assert.Contains(t, up.puts, f.StoragePath)

	text := res.Content.PlainText()
	assert.True(t, strings.HasPrefix(text, "what is this?"))
	assert.Contains(t, text, "[Uploaded files]")
	assert.Contains(t, text, "storagePath: "+f.StoragePath)
	assert.Equal(t, []model.AttachmentKind{model.AttachmentImage}, res.Kinds)
}

func TestPDFTextIsDelimited(t *testing.T) {
	p := New(newFakeUploader(), fakeExtractor{text: "ACME Store\nTotal: 42.00 EUR\nThank you"})

	res, err := p.BuildMessageContent(context.Background(), "u1", "log this", []model.Attachment{
		{Name: "invoice.pdf", Type: "application/pdf", Data: b64("%PDF-1.4")},
	})
	require.NoError(t, err)
	require.True(t, res.Content.IsText())

	text := res.Content.Text
	assert.Contains(t, text, "--- Begin invoice.pdf ---\nACME Store\nTotal: 42.00 EUR\nThank you\n--- End invoice.pdf ---")
	assert.Empty(t, res.Notes)
	require.Len(t, res.UploadedFiles, 1)
	assert.Equal(t, "application/pdf", res.UploadedFiles[0].FileType)
}

func TestPDFWithoutTextIsUnsupported(t *testing.T) {
	tests := []struct {
		name string
		ext  fakeExtractor
	}{
		{"short text", fakeExtractor{text: "  page 1  "}},
		{"extract error", fakeExtractor{err: errors.New("bad xref")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(newFakeUploader(), tt.ext)
			res, err := p.BuildMessageContent(context.Background(), "u1", "", []model.Attachment{
				{Name: "scan.pdf", Type: "application/pdf", Data: b64("%PDF-1.4")},
			})
			require.NoError(t, err)
			require.Len(t, res.Notes, 1)
			assert.Contains(t, res.Notes[0], "scan.pdf: unsupported PDF")
			assert.NotContains(t, res.Content.Text, "--- Begin")
			assert.Contains(t, res.Content.Text, DefaultInstruction)
			assert.Len(t, res.UploadedFiles, 1, "the original is still stored")
		})
	}
}

func TestUnsupportedAttachmentSurfacesNote(t *testing.T) {
	up := newFakeUploader()
	p := New(up, fakeExtractor{})

	res, err := p.BuildMessageContent(context.Background(), "u1", "", []model.Attachment{
		{Name: "archive.zip", Type: "application/zip", Data: b64("PK")},
	})
	require.NoError(t, err)
	require.True(t, res.Content.IsText())
	assert.True(t, strings.HasPrefix(res.Content.Text, DefaultInstruction))
	assert.Contains(t, res.Content.Text, "[Attachment notes]\n- archive.zip: unsupported file type (application/zip)")
	assert.Empty(t, up.puts)
	assert.Equal(t, []model.AttachmentKind{model.AttachmentUnsupported}, res.Kinds)
}

func TestUploadFailureIsNotFatal(t *testing.T) {
	up := newFakeUploader()
	up.fail = true
	p := New(up, fakeExtractor{})

	res, err := p.BuildMessageContent(context.Background(), "u1", "see photo", []model.Attachment{
		{Name: "photo.png", Type: "image/png", Data: testutil.PNGBase64},
	})
	require.NoError(t, err)
	assert.Empty(t, res.UploadedFiles)
	require.Len(t, res.Content.Images(), 1)
	assert.NotContains(t, res.Content.PlainText(), "[Uploaded files]")
}

func TestNilUploaderSkipsUploads(t *testing.T) {
	p := New(nil, fakeExtractor{})
	res, err := p.BuildMessageContent(context.Background(), "u1", "x", []model.Attachment{
		{Name: "photo.png", Type: "image/png", Data: testutil.PNGBase64},
	})
	require.NoError(t, err)
	assert.Empty(t, res.UploadedFiles)
}

func TestBMPIsTranscodedToJPEG(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.BMP))

	p := New(nil, fakeExtractor{})
	res, err := p.BuildMessageContent(context.Background(), "u1", "", []model.Attachment{
		{Name: "scan.bmp", Type: "image/bmp", Data: base64.StdEncoding.EncodeToString(buf.Bytes())},
	})
	require.NoError(t, err)

	images := res.Content.Images()
	require.Len(t, images, 1)
	assert.Equal(t, "image/jpeg", images[0].MediaType)
	data, err := base64.StdEncoding.DecodeString(images[0].Data)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2], "payload is a JPEG")

	assert.NotContains(t, res.Content.PlainText(), DefaultInstruction, "an image is enough content")
}

func TestUndecodableHEICIsRelabelled(t *testing.T) {
	raw := b64("not really a heic file")
	p := New(nil, fakeExtractor{})
	res, err := p.BuildMessageContent(context.Background(), "u1", "", []model.Attachment{
		{Name: "IMG_0001.HEIC", Type: "image/heic", Data: raw},
	})
	require.NoError(t, err)
	images := res.Content.Images()
	require.Len(t, images, 1)
	assert.Equal(t, "image/jpeg", images[0].MediaType)
	assert.Equal(t, raw, images[0].Data)
}

func TestUnreadableDataBecomesNote(t *testing.T) {
	p := New(newFakeUploader(), fakeExtractor{})
	res, err := p.BuildMessageContent(context.Background(), "u1", "hello", []model.Attachment{
		{Name: "photo.png", Type: "image/png", Data: "!!!not-base64!!!"},
	})
	require.NoError(t, err)
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "could not be read")
	assert.Empty(t, res.Content.Images())
}

func TestDataURLIsAccepted(t *testing.T) {
	p := New(nil, fakeExtractor{})
	res, err := p.BuildMessageContent(context.Background(), "u1", "x", []model.Attachment{
		{Name: "a.png", Type: "image/png", Data: "data:image/png;base64," + testutil.PNGBase64},
	})
	require.NoError(t, err)
	require.Len(t, res.Content.Images(), 1)
	assert.Equal(t, testutil.PNGBase64, res.Content.Images()[0].Data)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(nil, fakeExtractor{})
	_, err := p.BuildMessageContent(ctx, "u1", "x", []model.Attachment{{Name: "a.png", Type: "image/png", Data: testutil.PNGBase64}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPDFTextExtractorRejectsGarbage(t *testing.T) {
	_, err := PDFTextExtractor{}.ExtractText(context.Background(), []byte("definitely not a pdf"))
	assert.Error(t, err)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "hé\n[truncated]", truncateRunes("héllo", 2))
}

func TestPrepareImage(t *testing.T) {
	img, err := PrepareImage(model.Attachment{Name: "receipt.png", Type: "image/png", Data: testutil.PNGBase64})
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MediaType)

	_, err = PrepareImage(model.Attachment{Name: "notes.txt", Type: "text/plain", Data: "aGVsbG8="})
	assert.ErrorContains(t, err, "not an image")

	_, err = PrepareImage(model.Attachment{Name: "x.png", Type: "image/png", Data: "!!!"})
	assert.ErrorContains(t, err, "could not be read")
}

func TestDecodedSize(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, 300)
	enc := base64.StdEncoding.EncodeToString(raw)
	assert.Equal(t, int64(300), DecodedSize(enc))
	assert.Equal(t, int64(300), DecodedSize("data:image/png;base64,"+enc))
	assert.Equal(t, int64(0), DecodedSize(""))
}
