package model

import (
	"path/filepath"
	"strings"
)

// Attachment is a user-supplied file. It lives only for one request.
type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Data string `json:"data"`
}

// UploadedFile describes an attachment copy stored in blob storage. Tools
// reference the file by StoragePath.
type UploadedFile struct {
	StoragePath string `json:"storagePath"`
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	FileSize    int64  `json:"fileSize"`
}

type AttachmentKind string

const (
	AttachmentImage       AttachmentKind = "image"
	AttachmentPDF         AttachmentKind = "pdf"
	AttachmentUnsupported AttachmentKind = "unsupported"
)

const mimeOctetStream = "application/octet-stream"

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
}

// Media types every provider accepts inline.
var nativeImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

func baseMIME(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}

// EffectiveMIME resolves generic or missing MIME types from the file extension.
func EffectiveMIME(name, mimeType string) string {
	mt := baseMIME(mimeType)
	if mt != "" && mt != mimeOctetStream {
		return mt
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".pdf" {
		return "application/pdf"
	}
	if t, ok := imageExtensions[ext]; ok {
		return t
	}
	return mt
}

// ClassifyAttachment decides how an attachment is handled. The extension is
// only consulted when the MIME type is empty or application/octet-stream.
// Every input maps to exactly one kind.
func ClassifyAttachment(name, mimeType string) AttachmentKind {
	mt := EffectiveMIME(name, mimeType)
	switch {
	case mt == "application/pdf":
		return AttachmentPDF
	case strings.HasPrefix(mt, "image/"):
		return AttachmentImage
	default:
		return AttachmentUnsupported
	}
}

// NormalizeImageMediaType returns a media type all providers accept. Formats
// outside jpeg/png/gif/webp are reported as image/jpeg.
func NormalizeImageMediaType(name, mimeType string) string {
	mt := EffectiveMIME(name, mimeType)
	if mt == "image/jpg" {
		return "image/jpeg"
	}
	if nativeImageTypes[mt] {
		return mt
	}
	return "image/jpeg"
}

// IsNativeImageType reports whether mediaType can be sent without conversion.
func IsNativeImageType(mediaType string) bool {
	return nativeImageTypes[baseMIME(mediaType)]
}
