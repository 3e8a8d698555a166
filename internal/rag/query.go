package rag

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/provider"
	"github.com/ragforge/ragserver/internal/retriever"
)

// QueryOptions tunes one facade query. Zero values take engine defaults.
type QueryOptions struct {
	TopK        int
	MaxTokens   int
	Temperature float64
	History     []provider.Message
}

func (o QueryOptions) engineOptions(mode string) retriever.QueryOptions {
	return retriever.QueryOptions{
		Mode:        mode,
		TopK:        o.TopK,
		MaxTokens:   o.MaxTokens,
		Temperature: o.Temperature,
		History:     o.History,
	}
}

// Query answers a text query in the given retrieval mode.
func (s *Service) Query(ctx context.Context, query, mode string, opts QueryOptions) (string, error) {
	eng, err := s.Retriever(ctx)
	if err != nil {
		return "", err
	}
	answer, err := eng.Query(ctx, query, opts.engineOptions(mode))
	return guardAnswer(answer, err)
}

// QueryWithMultimodal answers a query that carries image, table or equation
// attachments. Inline base64 images are persisted under the upload root and
// rewritten to path references before the engine sees them, so the engine
// only ever deals in files.
func (s *Service) QueryWithMultimodal(ctx context.Context, query string, items []retriever.MultimodalItem, mode string, opts QueryOptions) (string, error) {
	eng, err := s.Retriever(ctx)
	if err != nil {
		return "", err
	}
	persisted, err := s.persistInlineImages(items)
	if err != nil {
		return "", err
	}
	answer, err := eng.QueryMultimodal(ctx, query, persisted, opts.engineOptions(mode))
	return guardAnswer(answer, err)
}

// guardAnswer converts a degenerate empty completion into an explicit error
// instead of handing clients a blank response body.
func guardAnswer(answer string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		return "", ragerrors.New(ragerrors.ErrCodeBadUpstream, "completion provider returned an empty answer", nil).
			WithSuggestion("check the llm binding's base_url and model")
	}
	return answer, nil
}

// maxInlineImageBytes caps the decoded size of one inline image.
const maxInlineImageBytes = 10 << 20

// extByMIME maps accepted image MIME types onto stored file extensions.
var extByMIME = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/tiff": "tif",
}

// persistInlineImages writes every inline image to disk and rewrites the
// item to its path. Non-image items and path-based images pass through
// untouched. The input slice is not modified.
func (s *Service) persistInlineImages(items []retriever.MultimodalItem) ([]retriever.MultimodalItem, error) {
	out := make([]retriever.MultimodalItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].Type != retriever.ItemImage || out[i].ImageData == "" {
			continue
		}
		path, err := s.saveQueryImage(out[i].ImageData)
		if err != nil {
			return nil, err
		}
		out[i].ImagePath = path
		out[i].ImageData = ""
	}
	return out, nil
}

// saveQueryImage decodes one inline base64 image and persists it as
// query_<unix>_<sha256[:16]>.<ext> under upload_dir/query_images. A data-URL
// prefix declares the MIME type; bare payloads are content-sniffed.
func (s *Service) saveQueryImage(data string) (string, error) {
	var mime string
	if strings.HasPrefix(data, "data:") {
		header, rest, ok := strings.Cut(data, ",")
		if !ok {
			return "", ragerrors.New(ragerrors.ErrCodeInvalidBase64, "inline image data URL has no payload", nil)
		}
		mime, _, _ = strings.Cut(strings.TrimPrefix(header, "data:"), ";")
		data = rest
	}

	data = stripSpace(data)
	if base64.StdEncoding.DecodedLen(len(data)) > maxInlineImageBytes+2 {
		return "", ragerrors.New(ragerrors.ErrCodeImageTooLarge,
			fmt.Sprintf("inline image exceeds the %d MiB limit", maxInlineImageBytes>>20), nil)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", ragerrors.New(ragerrors.ErrCodeInvalidBase64, "inline image is not valid base64", err)
	}
	if len(raw) > maxInlineImageBytes {
		return "", ragerrors.New(ragerrors.ErrCodeImageTooLarge,
			fmt.Sprintf("inline image exceeds the %d MiB limit", maxInlineImageBytes>>20), nil)
	}

	if mime == "" {
		mime, _, _ = strings.Cut(http.DetectContentType(raw), ";")
		mime = strings.TrimSpace(mime)
	}
	ext, ok := extByMIME[strings.ToLower(mime)]
	if !ok {
		return "", ragerrors.New(ragerrors.ErrCodeUnsupportedMedia,
			fmt.Sprintf("unsupported inline image type %q", mime), nil).
			WithSuggestion("send jpeg, png, webp, gif, bmp or tiff")
	}

	dir := filepath.Join(s.uploadDir, "query_images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ragerrors.New(ragerrors.ErrCodeFilePermission, "create query image directory", err)
	}
	sum := sha256.Sum256(raw)
	name := fmt.Sprintf("query_%d_%s.%s", time.Now().Unix(), hex.EncodeToString(sum[:])[:16], ext)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", ragerrors.New(ragerrors.ErrCodeFilePermission, "write query image", err)
	}

	s.log.Debug("query_image_persisted",
		slog.String("path", path),
		slog.Int("bytes", len(raw)))
	return path, nil
}

// stripSpace removes all whitespace from a base64 payload. Clients wrap
// long payloads at arbitrary columns.
func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
