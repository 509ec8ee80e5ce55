package casefs

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// PreviewKind selects how a file is shown in the browser.
type PreviewKind string

const (
	PreviewNone     PreviewKind = ""
	PreviewDirect   PreviewKind = "direct"   // rendered from the signed URL itself
	PreviewDocument PreviewKind = "document" // rendered by the document viewer
)

// documentTypes are rendered through the document viewer.
var documentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.ms-excel":                                                  true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.ms-powerpoint":                                             true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
}

// PreviewKindFor classifies a MIME type.
func PreviewKindFor(mimeType string) PreviewKind {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return PreviewDirect
	case documentTypes[mimeType]:
		return PreviewDocument
	default:
		return PreviewNone
	}
}

// CanPreview reports whether files of mimeType have a preview.
func CanPreview(mimeType string) bool {
	return PreviewKindFor(mimeType) != PreviewNone
}

// PreviewLink is what a client needs to show a file inline.
type PreviewLink struct {
	Kind        PreviewKind `json:"kind"`
	URL         string      `json:"url"`
	DownloadURL string      `json:"download_url"`
	Filename    string      `json:"filename"`
	MimeType    string      `json:"mime_type"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// Preview issues a preview URL and a download URL for a file.
func (s *Service) Preview(ctx context.Context, ownerID, fileID string) (*PreviewLink, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	file, err := s.loadFile(ctx, ownerID, fileID)
	if err != nil {
		return nil, err
	}

	kind := PreviewKindFor(file.MimeType)
	if kind == PreviewNone {
		return nil, fmt.Errorf("%w: preview not available for %q", ErrValidation, file.MimeType)
	}

	signed, err := s.blobs.SignedURL(ctx, file.StorageKey, s.policy.PreviewTTL, SignedURLOptions{})
	if err != nil {
		return nil, upstream("signing preview url", err)
	}
	download, err := s.blobs.SignedURL(ctx, file.StorageKey, s.policy.DownloadTTL, SignedURLOptions{
		Download: true,
		Filename: file.OriginalName,
	})
	if err != nil {
		return nil, upstream("signing download url", err)
	}

	link := &PreviewLink{
		Kind:        kind,
		URL:         signed,
		DownloadURL: download,
		Filename:    file.OriginalName,
		MimeType:    file.MimeType,
		ExpiresAt:   s.clock.Now().Add(s.policy.PreviewTTL),
	}
	if kind == PreviewDocument {
		link.URL = s.policy.ViewerURL + url.QueryEscape(signed)
	}
	return link, nil
}
