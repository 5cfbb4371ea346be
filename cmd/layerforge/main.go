// Command layerforge generates a token collection from a config file.
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/setanarut/layerforge"
	"github.com/setanarut/layerforge/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "layerforge:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := loadDotenv(".env"); err != nil {
		return err
	}
	e, err := parseEnv()
	if err != nil {
		return err
	}

	configPath := flag.String("config", e.Config, "collection config file")
	size := flag.Int("size", 0, "number of tokens (default: collection.collection_size, else prompt)")
	prefix := flag.String("prefix", "", `name tokens "{prefix} {id}" instead of "{collection} #{id}"`)
	clone := flag.String("clone", "", "write -size copies of this metadata template to json_clones/ and exit")
	flag.Parse()

	logger := newLogger(e.LogLevel)

	if *clone != "" {
		return cloneTemplate(logger, *clone, *size)
	}

	cfg, err := layerforge.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if e.Seed != nil {
		cfg.Settings.Seed = e.Seed
	}
	if e.Workers > 0 {
		cfg.Settings.Workers = e.Workers
	}

	local := store.NewDir(cfg.Layout(e.Root).CollectionDir)
	var sink layerforge.Sink = local
	if e.S3.Endpoint != "" {
		mirror, err := store.NewS3(store.S3Config{
			Endpoint:  e.S3.Endpoint,
			Region:    e.S3.Region,
			AccessKey: e.S3.AccessKey,
			SecretKey: e.S3.SecretKey,
			Bucket:    e.S3.Bucket,
			Prefix:    cfg.Collection.Sname,
			UseSSL:    e.S3.UseSSL,
		})
		if err != nil {
			return err
		}
		sink = store.Multi{local, mirror}
		logger.Info("mirroring outputs", slog.String("endpoint", e.S3.Endpoint), slog.String("bucket", e.S3.Bucket))
	}

	gen, err := layerforge.NewGenerator(cfg, e.Root, sink, layerforge.WithLogger(logger))
	if err != nil {
		return err
	}

	n := *size
	if n <= 0 && gen.Config().Collection.CollectionSize != nil {
		n = *gen.Config().Collection.CollectionSize
	}
	if n <= 0 {
		if n, err = promptSize(os.Stdin, os.Stdout); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var opts []layerforge.RunOption
	if *prefix != "" {
		opts = append(opts, layerforge.WithNamePrefix(*prefix))
	}
	report, runErr := gen.Generate(ctx, n, opts...)
	if report != nil {
		if err := writeReports(context.WithoutCancel(ctx), sink, gen.Table(), report); err != nil {
			return errors.Join(runErr, err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if err := report.Err(); err != nil {
		return fmt.Errorf("%d of %d tokens failed: %w", len(report.Failures), n, err)
	}
	layout := gen.Layout()
	logger.Info("outputs written",
		slog.String("dir", local.Root()),
		slog.String("images", layout.ImageDir),
		slog.String("metadata", layout.MetadataDir))
	return nil
}

func cloneTemplate(logger *slog.Logger, templatePath string, n int) error {
	if n <= 0 {
		return fmt.Errorf("-clone needs a positive -size")
	}
	template, err := os.ReadFile(templatePath)
	if err != nil {
		return err
	}
	keys, err := layerforge.CloneTemplate(context.Background(), store.NewDir("."), template,
		layerforge.DefaultCloneMarker, layerforge.DefaultCloneDir, 1, n)
	if err != nil {
		return err
	}
	logger.Info("template cloned", slog.String("template", templatePath), slog.Int("files", len(keys)))
	return nil
}

func writeReports(ctx context.Context, sink layerforge.Sink, table *layerforge.RarityTable, report *layerforge.Report) error {
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf); err != nil {
		return err
	}
	if err := sink.Put(ctx, "collection.csv", buf.Bytes()); err != nil {
		return fmt.Errorf("write collection report: %w", err)
	}
	buf.Reset()
	if err := table.WriteCSV(&buf); err != nil {
		return err
	}
	if err := sink.Put(ctx, "rarity.csv", buf.Bytes()); err != nil {
		return fmt.Errorf("write rarity report: %w", err)
	}
	return nil
}

// loadDotenv loads path into the environment. A missing file is fine.
func loadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func promptSize(in io.Reader, out io.Writer) (int, error) {
	fmt.Fprint(out, "\nHow many images would you like to generate?\nCollection Size: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid collection size %q", strings.TrimSpace(line))
	}
	return n, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
