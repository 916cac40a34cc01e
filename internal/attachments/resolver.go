// Package attachments turns stored file references into model content parts.
package attachments

import (
	"context"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/roelfdiedericks/chatgate/internal/llm"
	. "github.com/roelfdiedericks/chatgate/internal/logging"
	. "github.com/roelfdiedericks/chatgate/internal/metrics"
	"github.com/roelfdiedericks/chatgate/internal/types"
)

// DefaultConcurrency bounds parallel URL issuance when none is configured
const DefaultConcurrency = 4

// URLIssuer hands out time-limited read URLs for blob keys
type URLIssuer interface {
	ReadURL(ctx context.Context, key string) (string, error)
}

// Resolver converts attachments into content parts
type Resolver struct {
	issuer URLIssuer
	limit  int
}

// NewResolver creates a resolver. A nil issuer yields placeholder parts
// for every attachment.
func NewResolver(issuer URLIssuer, concurrency int) *Resolver {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Resolver{issuer: issuer, limit: concurrency}
}

// Resolve returns one part per attachment in input order. Failures never
// abort resolution: the affected part comes back as a placeholder.
func (r *Resolver) Resolve(ctx context.Context, atts []types.Attachment) []llm.Part {
	parts := make([]llm.Part, len(atts))
	if len(atts) == 0 {
		return parts
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)

	for i, att := range atts {
		parts[i] = llm.Part{
			Kind:     KindFor(att.FileType),
			MimeType: att.FileType,
			Name:     att.FileName,
		}
		g.Go(func() error {
			url, err := r.readURL(gctx, att.FileKey)
			if err != nil {
				L_warn("attachments: resolve failed, using placeholder", "file", att.FileName, "key", att.FileKey, "error", err)
				MetricFailWithReason("attachments", "resolve", "issue_failed")
				parts[i].Placeholder = true
				return nil
			}
			MetricSuccess("attachments", "resolve")
			parts[i].URL = url
			return nil
		})
	}
	_ = g.Wait()

	MetricSince("attachments", "resolve", start)
	L_debug("attachments: resolved", "count", len(atts), "elapsed", time.Since(start).Round(time.Millisecond))
	return parts
}

func (r *Resolver) readURL(ctx context.Context, key string) (string, error) {
	if r.issuer == nil {
		return "", errNoIssuer
	}
	if key == "" {
		return "", errEmptyKey
	}
	return r.issuer.ReadURL(ctx, key)
}

// KindFor maps a declared MIME type to a part kind. Types the mimetype
// tree places under text/plain (json, csv, source code) count as text.
func KindFor(fileType string) llm.PartKind {
	ft, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(fileType)), ";")
	ft = strings.TrimSpace(ft)
	switch {
	case strings.HasPrefix(ft, "image/"):
		return llm.PartImage
	case strings.HasPrefix(ft, "text/"):
		return llm.PartTextFile
	}
	for m := mimetype.Lookup(ft); m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return llm.PartTextFile
		}
	}
	return llm.PartFile
}
