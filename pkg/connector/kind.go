// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/base64"
	"errors"
	"mime"
	"strings"
)

// TransferKind selects the Telegram send method for an attachment.
type TransferKind string

const (
	KindPhoto    TransferKind = "photo"
	KindVideo    TransferKind = "video"
	KindAudio    TransferKind = "audio"
	KindDocument TransferKind = "document"
)

// ClassifyTransferKind maps an attachment to a send method. The declared
// Chatwoot file_type wins over the MIME prefix; everything else is a document.
func ClassifyTransferKind(fileType, mimeType string) TransferKind {
	switch strings.ToLower(strings.TrimSpace(fileType)) {
	case "image":
		return KindPhoto
	case "video":
		return KindVideo
	case "audio":
		return KindAudio
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindPhoto
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	default:
		return KindDocument
	}
}

var errInvalidDataURL = errors.New("invalid data URL")

// parseDataURL decodes a base64 data: URL into its MIME type and payload.
func parseDataURL(raw string) (mimeType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", nil, errInvalidDataURL
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errInvalidDataURL
	}
	mediaType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, errInvalidDataURL
	}
	if mediaType != "" {
		if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
			mimeType = parsed
		} else {
			mimeType = mediaType
		}
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return "", nil, errors.Join(errInvalidDataURL, err)
		}
	}
	return mimeType, data, nil
}

// fileExtension returns a file extension for a MIME type, or "".
func fileExtension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "audio/ogg":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
