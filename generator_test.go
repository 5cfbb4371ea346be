package layerforge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/setanarut/layerforge/store"
)

func newScenarioGenerator(t *testing.T, opts ...Option) (*Generator, string) {
	t.Helper()
	root := t.TempDir()
	writeScenarioAssets(t, root)
	out := filepath.Join(root, "out")
	g, err := NewGenerator(scenarioConfig(), root, store.NewDir(out), opts...)
	require.NoError(t, err)
	return g, out
}

func readMetadata(t *testing.T, path string) Metadata {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m Metadata
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestGenerateScenario(t *testing.T) {
	g, out := newScenarioGenerator(t)

	report, err := g.Generate(context.Background(), 5)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Len(t, report.Tokens, 5)
	assert.Equal(t, []string{"background", "eyes", "hat"}, report.Categories)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, uint64(1234), report.Seed)

	for i, tok := range report.Tokens {
		id := i + 1
		assert.Equal(t, id, tok.ID)

		imgPath := filepath.Join(out, "images", strconv.Itoa(id)+".png")
		f, err := os.Open(imgPath)
		require.NoError(t, err)
		img, err := png.Decode(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, testSize, testSize), img.Bounds())

		m := readMetadata(t, filepath.Join(out, "metadata", strconv.Itoa(id)+".json"))
		assert.Equal(t, "Apes #"+strconv.Itoa(id), m.Name)
		assert.Equal(t, "description", m.Description)
		assert.Equal(t, "image_URI", m.Image)
		require.Len(t, m.Attributes, 3)
		assert.Equal(t, Attribute{TraitType: "eyes", Value: "laser"}, m.Attributes[1])
		for j, attr := range m.Attributes {
			assert.Equal(t, tok.Traits[j].Category, attr.TraitType)
			assert.Equal(t, tok.Traits[j].Value, attr.Value)
		}
	}
}

func TestGenerateIsReproducibleAcrossRuns(t *testing.T) {
	first, _ := newScenarioGenerator(t)
	second, _ := newScenarioGenerator(t)

	a, err := first.Build(TokenSpec{ID: 4})
	require.NoError(t, err)
	b, err := second.Build(TokenSpec{ID: 4})
	require.NoError(t, err)

	assert.Equal(t, a.Selection.Traits, func() []Trait {
		// Paths differ between temp roots; compare everything else.
		out := make([]Trait, len(b.Selection.Traits))
		for i, tr := range b.Selection.Traits {
			tr.Path = a.Selection.Traits[i].Path
			out[i] = tr
		}
		return out
	}())
	assert.Equal(t, a.Selection.Depths, b.Selection.Depths)
	assert.Equal(t, a.Metadata, b.Metadata)
}

func TestGenerateWorkersMatchSequentialRun(t *testing.T) {
	seq, seqOut := newScenarioGenerator(t)
	par, parOut := newScenarioGenerator(t)

	_, err := seq.Generate(context.Background(), 20)
	require.NoError(t, err)
	report, err := par.Generate(context.Background(), 20, WithWorkers(4))
	require.NoError(t, err)

	require.Len(t, report.Tokens, 20)
	for i, tok := range report.Tokens {
		assert.Equal(t, i+1, tok.ID, "report is in id order")
	}
	for id := 1; id <= 20; id++ {
		for _, key := range []string{"images/" + strconv.Itoa(id) + ".png", "metadata/" + strconv.Itoa(id) + ".json"} {
			want, err := os.ReadFile(filepath.Join(seqOut, key))
			require.NoError(t, err)
			got, err := os.ReadFile(filepath.Join(parOut, key))
			require.NoError(t, err)
			assert.True(t, bytes.Equal(want, got), key)
		}
	}
}

func TestGenerateInitialIndexAndPrefix(t *testing.T) {
	root := t.TempDir()
	writeScenarioAssets(t, root)
	cfg := scenarioConfig()
	cfg.Settings.InitialIndex = intPtr(100)
	cfg.Settings.ImageBaseURI = "ipfs://cid"
	out := filepath.Join(root, "out")
	g, err := NewGenerator(cfg, root, store.NewDir(out))
	require.NoError(t, err)

	report, err := g.Generate(context.Background(), 2, WithNamePrefix("Ape"))
	require.NoError(t, err)
	require.Len(t, report.Tokens, 2)
	assert.Equal(t, 100, report.Tokens[0].ID)
	assert.Equal(t, 101, report.Tokens[1].ID)

	m := readMetadata(t, filepath.Join(out, "metadata", "101.json"))
	assert.Equal(t, "Ape 101", m.Name)
	assert.Equal(t, "ipfs://cid/101.png", m.Image)
	_, err = os.Stat(filepath.Join(out, "images", "1.png"))
	assert.True(t, os.IsNotExist(err))
}

// flakyLibrary fails overlays of assets whose path ends in failing.
type flakyLibrary struct {
	mu      sync.Mutex
	failing string
}

func (l *flakyLibrary) Blank(width, height int) draw.Image {
	return image.NewRGBA(image.Rect(0, 0, width, height))
}

func (l *flakyLibrary) Overlay(base draw.Image, path string) (draw.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if strings.HasSuffix(path, l.failing) {
		return nil, errors.New("corrupt asset")
	}
	return base, nil
}

func TestGenerateIsolatesTokenFailures(t *testing.T) {
	// Every token has a background; failing on one background value fails
	// exactly the tokens that drew it.
	g, out := newScenarioGenerator(t, WithImageLibrary(&flakyLibrary{failing: "red.png"}))

	report, err := g.Generate(context.Background(), 20)
	require.NoError(t, err)
	require.NotEmpty(t, report.Failures)
	require.Len(t, report.Tokens, 20-len(report.Failures))
	require.Error(t, report.Err())

	for _, f := range report.Failures {
		require.ErrorIs(t, f.Err, ErrMissingAsset)
		_, err := os.Stat(filepath.Join(out, "images", strconv.Itoa(f.ID)+".png"))
		assert.True(t, os.IsNotExist(err), "no image for failed token %d", f.ID)
		_, err = os.Stat(filepath.Join(out, "metadata", strconv.Itoa(f.ID)+".json"))
		assert.True(t, os.IsNotExist(err), "no metadata for failed token %d", f.ID)
	}
	for _, tok := range report.Tokens {
		assert.Equal(t, "blue", tok.Traits[0].Value)
	}
}

func TestGenerateStopOnError(t *testing.T) {
	g, _ := newScenarioGenerator(t, WithImageLibrary(&flakyLibrary{failing: "laser.png"}))

	_, err := g.Generate(context.Background(), 5, WithStopOnError(true))
	require.ErrorIs(t, err, ErrMissingAsset)
	assert.Contains(t, err.Error(), "token 1")
}

func TestGenerateHonoursCancellation(t *testing.T) {
	g, _ := newScenarioGenerator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := g.Generate(ctx, 5)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Tokens)
}

func TestGenerateRecordsPalette(t *testing.T) {
	root := t.TempDir()
	writeScenarioAssets(t, root)
	cfg := scenarioConfig()
	cfg.Settings.PaletteSize = 2
	g, err := NewGenerator(cfg, root, store.NewDir(filepath.Join(root, "out")))
	require.NoError(t, err)

	report, err := g.Generate(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, report.Tokens, 1)
	require.NotEmpty(t, report.Tokens[0].Palette)
	for _, hex := range report.Tokens[0].Palette {
		assert.Regexp(t, `^#[0-9a-f]{6}$`, hex)
	}
}

func TestNewGeneratorRejectsBadInput(t *testing.T) {
	root := t.TempDir()
	writeScenarioAssets(t, root)

	t.Run("invalid config", func(t *testing.T) {
		cfg := scenarioConfig()
		cfg.Settings.InitialIndex = nil
		_, err := NewGenerator(cfg, root, store.NewDir(root))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("rarity overflow", func(t *testing.T) {
		cfg := scenarioConfig()
		cfg.Traits["hat"] = TraitConfig{Values: map[string]ValueConfig{"crown": {Weight: floatPtr(1)}}}
		_, err := NewGenerator(cfg, root, store.NewDir(root))
		require.ErrorIs(t, err, ErrRarityOverflow)
	})
	t.Run("missing assets", func(t *testing.T) {
		_, err := NewGenerator(scenarioConfig(), t.TempDir(), store.NewDir(root))
		require.Error(t, err)
	})
	t.Run("nil sink", func(t *testing.T) {
		_, err := NewGenerator(scenarioConfig(), root, nil)
		require.Error(t, err)
	})
}

func TestGenerateWithoutSeedUsesRandomSeed(t *testing.T) {
	root := t.TempDir()
	writeScenarioAssets(t, root)
	cfg := scenarioConfig()
	cfg.Settings.Seed = nil

	g, err := NewGenerator(cfg, root, store.NewDir(root), WithSeed(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), g.Seed())

	g, err = NewGenerator(cfg, root, store.NewDir(root))
	require.NoError(t, err)
	tok, err := g.Build(TokenSpec{ID: 1})
	require.NoError(t, err)
	assert.Len(t, tok.Selection.Traits, 3)
}

func TestGenerateNamesTokenZeroAfterCollection(t *testing.T) {
	root := t.TempDir()
	writeScenarioAssets(t, root)
	cfg := scenarioConfig()
	cfg.Settings.InitialIndex = intPtr(0)
	out := filepath.Join(root, "out")
	g, err := NewGenerator(cfg, root, store.NewDir(out))
	require.NoError(t, err)

	report, err := g.Generate(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, report.Tokens, 1)
	assert.Equal(t, "Apes #0", report.Tokens[0].Name)
	assert.Equal(t, "Apes #0", readMetadata(t, filepath.Join(out, "metadata", "0.json")).Name)
}

func TestTokenUsesExplicitMetadata(t *testing.T) {
	g, out := newScenarioGenerator(t)

	tok, err := g.Token(context.Background(), TokenSpec{
		ID:          3,
		Name:        "Genesis",
		Description: "first of its kind",
		ImageURI:    "ipfs://genesis.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "metadata/3.json", tok.MetadataKey)

	m := readMetadata(t, filepath.Join(out, "metadata", "3.json"))
	assert.Equal(t, "Genesis", m.Name)
	assert.Equal(t, "first of its kind", m.Description)
	assert.Equal(t, "ipfs://genesis.png", m.Image)
}

// suffixFailingSink fails every Put whose key ends in suffix.
type suffixFailingSink struct {
	Sink
	suffix string
}

func (s suffixFailingSink) Put(ctx context.Context, key string, data []byte) error {
	if strings.HasSuffix(key, s.suffix) {
		return errors.New("disk full")
	}
	return s.Sink.Put(ctx, key, data)
}

func TestTokenRemovesImageWhenMetadataWriteFails(t *testing.T) {
	root := t.TempDir()
	writeScenarioAssets(t, root)
	out := filepath.Join(root, "out")
	sink := suffixFailingSink{Sink: store.NewDir(out), suffix: ".json"}
	g, err := NewGenerator(scenarioConfig(), root, sink)
	require.NoError(t, err)

	report, err := g.Generate(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, report.Failures, 3)
	assert.Empty(t, report.Tokens)
	for _, f := range report.Failures {
		assert.ErrorContains(t, f.Err, "write metadata")
		_, err := os.Stat(filepath.Join(out, "images", strconv.Itoa(f.ID)+".png"))
		assert.True(t, os.IsNotExist(err), "image of token %d left behind", f.ID)
	}
}

func TestTokenRollsBackMirroredWrites(t *testing.T) {
	root := t.TempDir()
	writeScenarioAssets(t, root)
	local := filepath.Join(root, "local")
	mirror := suffixFailingSink{Sink: store.NewDir(filepath.Join(root, "mirror")), suffix: ".png"}
	g, err := NewGenerator(scenarioConfig(), root, store.Multi{store.NewDir(local), mirror})
	require.NoError(t, err)

	_, err = g.Token(context.Background(), TokenSpec{ID: 1})
	require.ErrorContains(t, err, "write image")

	_, statErr := os.Stat(filepath.Join(local, "images", "1.png"))
	assert.True(t, os.IsNotExist(statErr), "local copy removed after the mirror failed")
	_, statErr = os.Stat(filepath.Join(local, "metadata", "1.json"))
	assert.True(t, os.IsNotExist(statErr))
}
