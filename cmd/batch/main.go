// main.go - Batch CLI: extracts every identity image in a folder into an XLSX workbook.

package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/bosocmputer/identity_ocr_gemini/configs"
	"github.com/bosocmputer/identity_ocr_gemini/internal/ai"
	"github.com/bosocmputer/identity_ocr_gemini/internal/common"
	"github.com/bosocmputer/identity_ocr_gemini/internal/export"
	"github.com/bosocmputer/identity_ocr_gemini/internal/extractor"
	"github.com/bosocmputer/identity_ocr_gemini/internal/processor"
	"github.com/bosocmputer/identity_ocr_gemini/internal/ratelimit"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir   = flag.String("dir", "", "directory of identity images (required)")
		out   = flag.String("out", "", "output XLSX path (defaults to <dir>/identity_results.xlsx)")
		group = flag.Int("group", 0, "images processed concurrently per group (defaults to BATCH_GROUP_SIZE)")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: -dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(*dir, "identity_results.xlsx")
	}

	cfg := configs.LoadConfig()
	logger := common.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	redactor := common.NewRedactor(cfg.Provider.GeminiAPIKey, cfg.Provider.MistralAPIKey)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	images, err := loadImages(*dir)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if len(images) == 0 {
		printError("Error: no %s files in %s\n", strings.Join(imageExtensions, "/"), *dir)
		os.Exit(1)
	}

	limiter := ratelimit.NewRateLimiter(cfg.Provider.RateLimitTokens, cfg.Provider.RateLimitRefill)
	providers, err := ai.CreateProviders(ctx, cfg.Provider, ai.CallOptionsFromConfig(cfg.Provider, limiter, logger, redactor))
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	defer ai.CloseProviders(providers)

	opts := extractor.OptionsFromConfig(cfg)
	opts.Logger = logger
	opts.Redactor = redactor
	service, err := extractor.NewService(providers, opts)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("batch.cli.start", "dir", *dir, "images", len(images))
	res := service.ProcessBatch(ctx, images, extractor.BatchOptions{
		GroupSize: *group,
		OnProgress: func(p extractor.Progress) {
			fmt.Printf("[%d/%d] %5.1f%% %s\n", p.Completed, p.Total, p.Percentage, p.CurrentFile)
		},
	})

	f, err := os.Create(*out)
	if err != nil {
		printError("Error: create %s: %v\n", *out, err)
		os.Exit(1)
	}
	if err := export.WriteBatchXLSX(f, res, logger); err != nil {
		f.Close()
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		printError("Error: close %s: %v\n", *out, err)
		os.Exit(1)
	}

	fmt.Printf("\n%s: %d successful, %d failed, %.1fs total\n", res.Status, res.Summary.Successful, res.Summary.Failed, res.Summary.TotalTime.Seconds())
	fmt.Printf("Results written to %s\n", *out)
	if res.Summary.Failed > 0 {
		os.Exit(2)
	}
}

// loadImages reads every supported image directly inside dir, sorted by name.
func loadImages(dir string) ([]processor.SourceImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var images []processor.SourceImage
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || !slices.Contains(imageExtensions, ext) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		images = append(images, processor.NewSourceImage(data, e.Name(), mime.TypeByExtension(ext)))
	}
	return images, nil
}
