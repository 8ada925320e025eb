package willys

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"

	"matkollen-backend/lib/htmlutil"
)

// Content is a downloaded receipt document. Text is only populated
// for HTML receipts, PDF extraction is a collaborator concern.
type Content struct {
	Descriptor
	ContentType string
	Body        []byte
	Text        string
}

// downloads every descriptor's document sequentially over the
// authenticated session. a failed download drops that descriptor from
// the output, it never fails the batch.
func (s *Session) FetchContents(ctx context.Context, descriptors []Descriptor) []Content {
	ctx, span := tracer.Start(ctx, "FetchContents")
	defer span.End()

	out := make([]Content, 0, len(descriptors))
	for _, desc := range descriptors {
		res, err := s.http.R().
			SetContext(ctx).
			SetHeader("accept", "*/*").
			Get(desc.ContentUrl)
		if err != nil {
			slog.WarnContext(
				ctx, "failed to download receipt, skipping",
				"reference", desc.Reference,
				"err", err,
			)
			continue
		}
		if res.StatusCode() >= 400 {
			slog.WarnContext(
				ctx, "receipt download rejected, skipping",
				"reference", desc.Reference,
				"status", res.StatusCode(),
			)
			continue
		}

		content := Content{
			Descriptor:  desc,
			ContentType: res.Header().Get("content-type"),
			Body:        res.Body(),
		}
		if strings.Contains(content.ContentType, "text/html") {
			content.Text = htmlutil.BlockText(content.Body)
		}
		out = append(out, content)
	}

	span.SetAttributes(
		attribute.Int("requested", len(descriptors)),
		attribute.Int("downloaded", len(out)),
	)
	return out
}

// pulls the <title> out of an unexpected html response for error
// messages, empty string if it isn't parsable
func htmlTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
