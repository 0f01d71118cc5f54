package processing

import (
	"context"
	"fmt"
	"log/slog"

	"docplane/internal/extraction"
	"docplane/internal/observability"
	"docplane/internal/store"
	"docplane/internal/vectorstore"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Preprocessor parses an uploaded asset and indexes its segments. Steps over
// the asset only run once its content reaches COMPLETED.
type Preprocessor struct {
	repo       Repository
	parser     extraction.Service
	vectors    vectorstore.Store
	metrics    *observability.PipelineMetrics
	logger     *slog.Logger
	maxRetries int
}

func NewPreprocessor(repo Repository, parser extraction.Service, vectors vectorstore.Store, metrics *observability.PipelineMetrics, logger *slog.Logger, maxRetries int) *Preprocessor {
	return &Preprocessor{
		repo:       repo,
		parser:     parser,
		vectors:    vectors,
		metrics:    metrics,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Preprocess runs the full pipeline for one asset. Any failure leaves the
// content row FAILED.
func (p *Preprocessor) Preprocess(ctx context.Context, assetID uuid.UUID) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "preprocess_asset",
		trace.WithAttributes(attribute.String("asset.id", assetID.String())),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := p.logger.With("asset_id", assetID)

	asset, err := p.repo.GetAsset(ctx, nil, assetID)
	if err != nil {
		return fmt.Errorf("failed to load asset: %w", err)
	}

	err = withTx(ctx, p.repo, func(tx store.Tx) error {
		return p.repo.UpsertAssetContent(ctx, tx, &store.AssetContent{
			AssetID:    assetID,
			Processing: store.AssetProcessingInProgress,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to mark asset in progress: %w", err)
	}
	logger.Info("Preprocessing asset", "filename", asset.Filename)

	if err := p.run(ctx, logger, asset); err != nil {
		logger.Error("Preprocessing failed", "error", err)
		statusErr := withTx(ctx, p.repo, func(tx store.Tx) error {
			return p.repo.UpdateAssetContentStatus(ctx, tx, assetID, store.AssetProcessingFailed)
		})
		if statusErr != nil {
			logger.Error("Failed to mark asset failed", "error", statusErr)
		}
		return err
	}

	logger.Info("Asset preprocessed")
	return nil
}

func (p *Preprocessor) run(ctx context.Context, logger *slog.Logger, asset *store.Asset) error {
	mt, err := mimetype.DetectFile(asset.Path)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", asset.Path, err)
	}
	attrs := []any{"mime", mt.String()}
	if mt.Is("application/pdf") {
		if pages, err := pdfapi.PageCountFile(asset.Path); err != nil {
			logger.Warn("Failed to count PDF pages", "error", err)
		} else {
			attrs = append(attrs, "pages", pages)
		}
	}
	logger.Info("Parsing asset", attrs...)

	parsed, err := extraction.Retry(ctx, extraction.Policy{
		MaxRetries: p.maxRetries,
		Logger:     logger,
		OnFailure:  func(int, error) { p.metrics.Retry(ctx, "parse") },
	}, "parse", func(ctx context.Context) (*extraction.ParseResult, error) {
		return p.parser.Parse(ctx, asset.Path)
	})
	if err != nil {
		return err
	}

	content := &store.ParsedContent{WordCount: parsed.WordCount, Language: parsed.Lang}
	for _, s := range parsed.Content {
		content.Segments = append(content.Segments, store.Segment{Text: s.Text, Metadata: s.Metadata})
	}

	err = withTx(ctx, p.repo, func(tx store.Tx) error {
		return p.repo.UpsertAssetContent(ctx, tx, &store.AssetContent{
			AssetID:    asset.ID,
			Content:    content,
			Language:   parsed.Lang,
			Processing: store.AssetProcessingInProgress,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to store parsed content: %w", err)
	}

	if err := p.index(ctx, asset, content); err != nil {
		return err
	}

	return withTx(ctx, p.repo, func(tx store.Tx) error {
		return p.repo.UpdateAssetContentStatus(ctx, tx, asset.ID, store.AssetProcessingCompleted)
	})
}

// index replaces the asset's segments in the project's collection.
func (p *Preprocessor) index(ctx context.Context, asset *store.Asset, content *store.ParsedContent) error {
	collection := vectorstore.DocsCollection(asset.ProjectID)

	if err := p.vectors.Delete(ctx, collection, vectorstore.Filter{vectorstore.KeyAssetID: asset.ID.String()}); err != nil {
		return fmt.Errorf("failed to clear previous segments: %w", err)
	}

	docs := make([]vectorstore.Document, 0, len(content.Segments))
	for _, s := range content.Segments {
		if s.Text == "" {
			continue
		}
		md := vectorstore.Metadata{
			vectorstore.KeyAssetID:    asset.ID.String(),
			vectorstore.KeyProjectID:  asset.ProjectID.String(),
			vectorstore.KeyFilename:   asset.Filename,
			vectorstore.KeyPageNumber: 1,
		}
		for k, v := range s.Metadata {
			md[k] = v
		}
		docs = append(docs, vectorstore.Document{Text: s.Text, Metadata: md})
	}
	if len(docs) == 0 {
		return nil
	}

	vectorstore.LinkNeighbors(docs)
	if _, err := p.vectors.Add(ctx, collection, docs); err != nil {
		return fmt.Errorf("failed to index segments: %w", err)
	}
	return nil
}
