// Package grocery orchestrates bankid logins, receipt fetching and
// forwarding of parsed receipts to the downstream grocery-data
// service.
package grocery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"matkollen-backend/lib/receiptparse"
	"matkollen-backend/lib/scrapers/willys"
	"matkollen-backend/lib/timezone"
	"matkollen-backend/services/sessions"
)

type Options struct {
	Engine *willys.Engine
	Store  sessions.Store
	// optional, fetches run on cold sessions without it
	Pool *Pool
	// optional, receipts are returned inline without it
	Ingestor Ingestor
	// optional, non-html receipts go unparsed without it
	Extractor TextExtractor
	Smtp      SmtpConfig
	Sync      SyncConfig
}

type Service struct {
	engine    *willys.Engine
	store     sessions.Store
	pool      *Pool
	ingestor  Ingestor
	extractor TextExtractor
	smtp      SmtpConfig
	sync      SyncConfig
}

func NewService(ctx context.Context, opts Options) Service {
	s := Service{
		engine:    opts.Engine,
		store:     opts.Store,
		pool:      opts.Pool,
		ingestor:  opts.Ingestor,
		extractor: opts.Extractor,
		smtp:      opts.Smtp,
		sync:      opts.Sync,
	}
	if s.sync.Interval > 0 {
		go s.syncDaemon(ctx)
	}
	return s
}

// StartLogin kicks off a bankid login and returns its event stream.
func (s Service) StartLogin(ctx context.Context, req willys.LoginRequest) *willys.LoginStream {
	return s.engine.Login(ctx, req)
}

// Login drains the stream and returns the terminal outcome, for
// callers that don't care about progress.
func (s Service) Login(ctx context.Context, req willys.LoginRequest) (*willys.LoginResult, error) {
	return s.engine.Login(ctx, req).Wait()
}

type FetchRequest struct {
	Identity      string `json:"identity"`
	DestinationId string `json:"destination_id"`
	// defaults to 3
	MonthsBack int `json:"months_back"`
	PageSize   int `json:"page_size"`
	MaxPages   int `json:"max_pages"`
}

type FetchResult struct {
	DescriptorCount int `json:"descriptor_count"`
	Forwarded       int `json:"forwarded"`
	// populated when no ingestion endpoint is configured
	Receipts []ForwardedReceipt `json:"receipts,omitempty"`
}

// session resolves an authenticated portal session for an identity,
// warm pool first, cold restore from the stored artifact otherwise.
func (s Service) session(ctx context.Context, identity string) (*willys.Session, error) {
	if identity == "" {
		return nil, willys.ErrSessionMissing
	}
	artifact, err := s.store.Load(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", willys.ErrSessionMissing, err)
	}

	if s.pool != nil {
		sess, err := s.pool.Acquire(ctx, identity, artifact, true)
		if err != nil {
			slog.WarnContext(ctx, "warm pool unavailable, restoring cold session",
				"identity", identity, "err", err)
		} else if sess != nil {
			return sess, nil
		}
	}
	return s.engine.RestoreSession(identity, artifact, nil)
}

func (s Service) descriptorQuery(req FetchRequest) willys.DescriptorQuery {
	months := req.MonthsBack
	if months <= 0 {
		months = 3
	}
	to := timezone.Now()
	return willys.DescriptorQuery{
		From:     to.AddDate(0, -months, 0),
		To:       to,
		PageSize: req.PageSize,
		MaxPages: req.MaxPages,
	}
}

// FetchReceipts lists receipt descriptors for the identity's recent
// purchases and forwards them downstream when an ingestion endpoint
// is configured.
func (s Service) FetchReceipts(ctx context.Context, req FetchRequest) (FetchResult, error) {
	ctx, span := tracer.Start(ctx, "FetchReceipts")
	defer span.End()
	span.SetAttributes(attribute.String("identity", req.Identity))

	sess, err := s.session(ctx, req.Identity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no usable session")
		return FetchResult{}, err
	}

	descriptors, err := sess.FetchDescriptors(ctx, s.descriptorQuery(req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "descriptor fetch failed")
		return FetchResult{}, err
	}
	receiptsFetched.Add(ctx, int64(len(descriptors)))

	receipts := make([]ForwardedReceipt, 0, len(descriptors))
	for _, desc := range descriptors {
		receipts = append(receipts, ForwardedReceipt{
			Date:      desc.Date.Format("2006-01-02"),
			Store:     desc.Store,
			Reference: desc.Reference,
		})
	}
	return s.deliver(ctx, req, receipts)
}

// FetchReceiptsWithContent additionally downloads every receipt
// document, extracts its text and parses it into line items before
// delivery. Per-receipt download and parse failures drop the receipt,
// never the batch.
func (s Service) FetchReceiptsWithContent(ctx context.Context, req FetchRequest) (FetchResult, error) {
	ctx, span := tracer.Start(ctx, "FetchReceiptsWithContent")
	defer span.End()
	span.SetAttributes(attribute.String("identity", req.Identity))

	sess, err := s.session(ctx, req.Identity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no usable session")
		return FetchResult{}, err
	}

	descriptors, err := sess.FetchDescriptors(ctx, s.descriptorQuery(req))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "descriptor fetch failed")
		return FetchResult{}, err
	}
	receiptsFetched.Add(ctx, int64(len(descriptors)))

	contents := sess.FetchContents(ctx, descriptors)

	receipts := make([]ForwardedReceipt, 0, len(contents))
	for _, content := range contents {
		text := content.Text
		if text == "" && s.extractor != nil {
			text = s.extractor.Extract(ctx, content.ContentType, content.Body)
		}

		forwarded := ForwardedReceipt{
			Date:      content.Date.Format("2006-01-02"),
			Store:     content.Store,
			Reference: content.Reference,
		}
		if text != "" {
			parsed := receiptparse.Parse(text)
			forwarded.Parsed = &parsed
		}
		receipts = append(receipts, forwarded)
	}

	result, err := s.deliver(ctx, req, receipts)
	result.DescriptorCount = len(descriptors)
	return result, err
}

// deliver forwards the batch downstream or returns it inline.
func (s Service) deliver(ctx context.Context, req FetchRequest, receipts []ForwardedReceipt) (FetchResult, error) {
	result := FetchResult{DescriptorCount: len(receipts)}

	if s.ingestor == nil || req.DestinationId == "" {
		result.Receipts = receipts
		return result, nil
	}
	if len(receipts) == 0 {
		return result, nil
	}

	err := s.ingestor.Ingest(ctx, IngestBatch{
		DestinationId: req.DestinationId,
		Receipts:      receipts,
	})
	if err != nil {
		return result, fmt.Errorf("forwarding receipts: %w", err)
	}
	result.Forwarded = len(receipts)
	receiptsForwarded.Add(ctx, int64(len(receipts)))
	return result, nil
}

// ProbeSession validates an identity's stored session by fetching the
// authenticated profile. A dead session also drops the identity's
// warm context.
func (s Service) ProbeSession(ctx context.Context, identity string) (*willys.Profile, error) {
	ctx, span := tracer.Start(ctx, "ProbeSession")
	defer span.End()
	span.SetAttributes(attribute.String("identity", identity))

	sess, err := s.session(ctx, identity)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	profile, err := sess.FetchProfile(ctx)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, willys.ErrSessionMissing) && s.pool != nil {
			s.pool.Drop(identity)
		}
		return nil, err
	}
	return profile, nil
}
