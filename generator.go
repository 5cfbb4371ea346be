package layerforge

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/setanarut/layerforge/utils"
)

var discardLogger = slog.New(slog.DiscardHandler)

// Sink persists generated files under sink-relative keys. Delete of a
// missing key is not an error.
type Sink interface {
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Generator produces tokens for one loaded collection. The rarity table is
// computed once in NewGenerator and shared read-only by every token.
type Generator struct {
	cfg        Config
	layout     Layout
	categories []Category
	table      *RarityTable
	sampler    *Sampler
	compositor *Compositor
	meta       MetadataDefaults
	sink       Sink
	lib        ImageLibrary
	palette    utils.PaletteMethod

	seed    uint64
	seedSet bool
	logger  *slog.Logger
}

type Option func(*Generator)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithImageLibrary replaces the default utils.Canvas backend.
func WithImageLibrary(lib ImageLibrary) Option {
	return func(g *Generator) {
		g.lib = lib
	}
}

// WithSeed overrides settings.seed.
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.seed = seed
		g.seedSet = true
	}
}

// NewGenerator validates cfg, scans the asset tree below root and builds
// the rarity table. Outputs go to sink.
func NewGenerator(cfg Config, root string, sink Sink, opts ...Option) (*Generator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Generator{
		cfg:    cfg,
		layout: cfg.Layout(root),
		sink:   sink,
		logger: discardLogger,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = discardLogger
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	if !g.seedSet {
		if cfg.Settings.Seed != nil {
			g.seed = uint64(*cfg.Settings.Seed)
		} else {
			seed, err := NewSeed()
			if err != nil {
				return nil, err
			}
			g.seed = seed
			g.logger.Info("no seed configured, using random seed", slog.Uint64("seed", seed))
		}
	}

	method, err := utils.ParsePaletteMethod(cfg.Settings.PaletteMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	g.palette = method

	g.categories, err = DiscoverCategories(g.layout.AssetDir, cfg.Settings.ImageFileType, cfg.Traits)
	if err != nil {
		return nil, err
	}
	for _, t := range UnmatchedTraits(g.categories, cfg.Traits) {
		g.logger.Warn("configured trait has no asset", slog.String("trait", t))
	}
	g.table, err = BuildRarityTable(g.categories, g.logger)
	if err != nil {
		return nil, err
	}
	g.sampler = NewSampler(g.table, g.categories)

	if g.lib == nil {
		cache, err := utils.NewAssetCache(cfg.Settings.AssetCacheSize)
		if err != nil {
			return nil, err
		}
		canvas, err := utils.NewCanvas(cache, cfg.Settings.BackgroundColor)
		if err != nil {
			return nil, fmt.Errorf("%w: background_color: %v", ErrInvalidConfig, err)
		}
		g.lib = canvas
	}
	g.compositor = NewCompositor(g.lib, cfg.Settings.ImageWidth, cfg.Settings.ImageHeight)
	g.meta = MetadataDefaults{
		CollectionName: cfg.Collection.Name,
		Description:    cfg.Collection.Description,
		ImageBaseURI:   cfg.Settings.ImageBaseURI,
		ImageExt:       cfg.Settings.ImageOutputType,
	}

	g.logger.Info("collection loaded",
		slog.String("collection", cfg.Collection.Sname),
		slog.Int("categories", len(g.categories)),
		slog.Uint64("seed", g.seed))
	return g, nil
}

// Config returns the configuration with defaults applied.
func (g *Generator) Config() Config {
	return g.cfg
}

func (g *Generator) Layout() Layout {
	return g.layout
}

func (g *Generator) Table() *RarityTable {
	return g.table
}

// Categories returns the discovered asset tree in sampling order.
func (g *Generator) Categories() []Category {
	return g.categories
}

func (g *Generator) Seed() uint64 {
	return g.seed
}

// Token is one generated token. Image and Metadata describe exactly the
// traits in Selection.
type Token struct {
	ID          int
	Selection   Selection
	Image       image.Image
	Metadata    Metadata
	ImageKey    string
	MetadataKey string
}

// Build samples, renders and describes token spec.ID without persisting
// it. Empty spec fields fall back to the collection defaults.
func (g *Generator) Build(spec TokenSpec) (*Token, error) {
	id := spec.ID
	sel, err := g.sampler.Sample(id, TokenRand(g.seed, id))
	if err != nil {
		return nil, err
	}
	img, err := g.compositor.Render(sel)
	if err != nil {
		return nil, err
	}
	return &Token{
		ID:          id,
		Selection:   sel,
		Image:       img,
		Metadata:    g.meta.Build(spec, sel),
		ImageKey:    g.layout.ImageKey(id, g.cfg.Settings.ImageOutputType),
		MetadataKey: g.layout.MetadataKey(id),
	}, nil
}

// Token builds a token and writes its image and metadata. Both are encoded
// before anything is written, and a failed write removes whatever part of
// the pair already reached the sink.
func (g *Generator) Token(ctx context.Context, spec TokenSpec) (*Token, error) {
	tok, err := g.Build(spec)
	if err != nil {
		return nil, err
	}
	imgData, err := utils.EncodeImage(tok.Image, g.cfg.Settings.ImageOutputType)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	metaData, err := tok.Metadata.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if err := g.sink.Put(ctx, tok.ImageKey, imgData); err != nil {
		return nil, g.rollback(ctx, fmt.Errorf("write image: %w", err), tok.ImageKey)
	}
	if err := g.sink.Put(ctx, tok.MetadataKey, metaData); err != nil {
		return nil, g.rollback(ctx, fmt.Errorf("write metadata: %w", err), tok.ImageKey, tok.MetadataKey)
	}
	return tok, nil
}

// rollback deletes keys of a half-written token. A fan-out sink may have
// stored a key in some destinations before failing in another.
func (g *Generator) rollback(ctx context.Context, cause error, keys ...string) error {
	ctx = context.WithoutCancel(ctx)
	errs := []error{cause}
	for _, key := range keys {
		if err := g.sink.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

type runConfig struct {
	prefix      string
	workers     int
	stopOnError bool
}

type RunOption func(*runConfig)

// WithNamePrefix names tokens "{prefix} {id}".
func WithNamePrefix(prefix string) RunOption {
	return func(rc *runConfig) {
		rc.prefix = prefix
	}
}

func WithWorkers(n int) RunOption {
	return func(rc *runConfig) {
		rc.workers = max(n, 1)
	}
}

func WithStopOnError(stop bool) RunOption {
	return func(rc *runConfig) {
		rc.stopOnError = stop
	}
}

func (rc runConfig) name(id int) string {
	if rc.prefix == "" {
		return ""
	}
	return rc.prefix + " " + strconv.Itoa(id)
}

// Generate produces size tokens with ids initial_index .. initial_index+size-1.
//
// A failing token is recorded in Report.Failures and the run goes on,
// unless stop-on-error is set. Cancelling ctx stops the run before the
// next token starts; the partial report is returned with ctx's error.
func (g *Generator) Generate(ctx context.Context, size int, opts ...RunOption) (*Report, error) {
	if size < 0 {
		return nil, fmt.Errorf("collection size must not be negative, got %d", size)
	}
	rc := runConfig{
		workers:     g.cfg.Settings.Workers,
		stopOnError: g.cfg.Settings.StopOnError,
	}
	for _, opt := range opts {
		opt(&rc)
	}

	start := *g.cfg.Settings.InitialIndex
	report := &Report{
		RunID:      uuid.NewString(),
		Collection: g.cfg.Collection.Sname,
		Seed:       g.seed,
		Categories: g.table.Categories(),
	}
	logger := g.logger.With(slog.String("run_id", report.RunID))
	logger.Info("generating collection",
		slog.Int("size", size), slog.Int("first_id", start), slog.Int("workers", rc.workers))

	type result struct {
		summary *TokenSummary
		err     error
	}
	results := make([]result, size)
	var done atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(rc.workers)
	for i := range size {
		if egCtx.Err() != nil {
			break
		}
		id := start + i
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			tok, err := g.Token(egCtx, TokenSpec{ID: id, Name: rc.name(id)})
			if err != nil {
				err = fmt.Errorf("token %d: %w", id, err)
				if rc.stopOnError {
					return err
				}
				logger.Error("token failed", slog.Int("id", id), slog.Any("error", err))
				results[i] = result{err: err}
				return nil
			}
			summary := g.summarize(tok)
			results[i] = result{summary: &summary}
			n := done.Add(1)
			if n == 1 || n == int64(size) || n%max(int64(size)/10, 1) == 0 {
				logger.Info("progress", slog.Int64("done", n), slog.Int("size", size))
			}
			return nil
		})
	}
	err := eg.Wait()

	for i, r := range results {
		switch {
		case r.summary != nil:
			report.Tokens = append(report.Tokens, *r.summary)
		case r.err != nil:
			report.Failures = append(report.Failures, TokenFailure{ID: start + i, Err: r.err})
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return report, err
	}
	logger.Info("collection generated",
		slog.Int("tokens", len(report.Tokens)), slog.Int("failed", len(report.Failures)))
	return report, nil
}

func (g *Generator) summarize(tok *Token) TokenSummary {
	s := TokenSummary{
		ID:          tok.ID,
		Name:        tok.Metadata.Name,
		ImageKey:    tok.ImageKey,
		MetadataKey: tok.MetadataKey,
		Traits:      tok.Selection.Traits,
		RarityScore: tok.Selection.RarityScore(),
	}
	if k := g.cfg.Settings.PaletteSize; k > 0 {
		s.Palette = utils.PaletteHex(utils.ExtractPalette(tok.Image, k, g.palette))
	}
	return s
}
