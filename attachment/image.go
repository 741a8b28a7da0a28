package attachment

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"

	"receiptly/model"
)

// MaxImageDimension bounds the longer side of transcoded images.
const MaxImageDimension = 2048

// toImageBlock returns an image block every provider accepts. Native formats
// pass through untouched. Other formats are transcoded to JPEG when they can
// be decoded; otherwise the bytes are sent as-is and labelled image/jpeg.
func toImageBlock(att model.Attachment, data []byte) model.ImageBlock {
	mediaType := model.NormalizeImageMediaType(att.Name, att.Type)

	source := model.EffectiveMIME(att.Name, att.Type)
	if model.IsNativeImageType(source) || source == "image/jpg" {
		return model.ImageBlock{MediaType: mediaType, Data: base64.StdEncoding.EncodeToString(data)}
	}

	converted, err := transcodeJPEG(data)
	if err != nil {
		slog.Debug("[Attachment] keeping undecodable image as-is", "name", att.Name, "error", err)
		return model.ImageBlock{MediaType: mediaType, Data: base64.StdEncoding.EncodeToString(data)}
	}
	return model.ImageBlock{MediaType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(converted)}
}

// transcodeJPEG decodes any format imaging understands (BMP, TIFF, ...) and
// re-encodes it as JPEG, shrinking it to MaxImageDimension.
func transcodeJPEG(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() > MaxImageDimension || b.Dy() > MaxImageDimension {
		img = imaging.Fit(img, MaxImageDimension, MaxImageDimension, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// PrepareImage decodes a single image attachment into a provider-ready
// block. It fails when the attachment is not an image or cannot be read.
func PrepareImage(att model.Attachment) (model.ImageBlock, error) {
	if model.ClassifyAttachment(att.Name, att.Type) != model.AttachmentImage {
		return model.ImageBlock{}, fmt.Errorf("%s is not an image", displayName(att.Name))
	}
	data, err := decodeBase64(att.Data)
	if err != nil || len(data) == 0 {
		return model.ImageBlock{}, fmt.Errorf("%s could not be read", displayName(att.Name))
	}
	return toImageBlock(att, data), nil
}
