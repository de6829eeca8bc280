package infra

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"swap_rates/internal/domain"
)

const (
	iconSize             = 24
	maxParallelDownloads = 5
)

// IconDownloader fetches token icons once and keeps resized copies on disk.
type IconDownloader struct {
	basePath    string
	urlTemplate string
	client      *http.Client
	logger      *slog.Logger
}

// NewIconDownloader creates dir if needed. urlTemplate takes the
// lower-cased symbol in place of its %s.
func NewIconDownloader(dir, urlTemplate string, logger *slog.Logger) (*IconDownloader, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create assets directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default().With("module", "icons")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &IconDownloader{
		basePath:    dir,
		urlTemplate: urlTemplate,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
		logger: logger,
	}, nil
}

// DownloadIcon returns the local path of symbol's icon, fetching and
// resizing it to 24x24 on first use.
func (d *IconDownloader) DownloadIcon(ctx context.Context, symbol string) (string, error) {
	safeSymbol := sanitizeSymbol(symbol)
	if safeSymbol == "" {
		return "", fmt.Errorf("invalid symbol: %q", symbol)
	}

	filePath := d.GetIconPath(safeSymbol)
	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil
	}

	url := fmt.Sprintf(d.urlTemplate, strings.ToLower(safeSymbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", domain.NewNetworkError("icon", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", domain.NewFatalNetworkError("icon", fmt.Errorf("bad status: %s", resp.Status))
	}

	srcImg, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	resized := imaging.Resize(srcImg, iconSize, iconSize, imaging.Lanczos)
	if err := imaging.Save(resized, filePath); err != nil {
		return "", fmt.Errorf("failed to save resized image: %w", err)
	}
	return filePath, nil
}

// Sync makes sure every token has an icon and returns how many are present.
// Failures are logged and skipped.
func (d *IconDownloader) Sync(ctx context.Context, tokens []domain.Token) int {
	if d.urlTemplate == "" {
		return 0
	}

	var (
		wg sync.WaitGroup
		n  atomic.Int32
	)
	semaphore := make(chan struct{}, maxParallelDownloads)

	for _, t := range tokens {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			if _, err := d.DownloadIcon(ctx, sym); err != nil {
				d.logger.Warn("Icon download failed", slog.String("symbol", sym), slog.Any("error", err))
				return
			}
			n.Add(1)
		}(t.Symbol)
	}

	wg.Wait()
	return int(n.Load())
}

// GetIconPath returns the local path for a symbol's icon
func (d *IconDownloader) GetIconPath(symbol string) string {
	return filepath.Join(d.basePath, strings.ToLower(symbol)+".png")
}

func sanitizeSymbol(symbol string) string {
	res := make([]rune, 0, len(symbol))
	for _, r := range symbol {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			res = append(res, r)
		}
	}
	return string(res)
}
