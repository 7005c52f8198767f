package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gauravprwl14/trade-watch-chrome-extension/cmd/content/internal/capture"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/bridge"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/config"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/protocol"
)

func main() {
	flags := pflag.NewFlagSet("content", pflag.ExitOnError)
	htmlPath := flags.String("html", "", "page snapshot to bookmark from")
	pageURL := flags.String("url", "", "page to fetch and bookmark from")
	remove := flags.String("remove", "", "symbol to drop from the watchlist")
	flags.String("bridge", "", "background gateway URL (overrides BRIDGE_URL)")
	flags.Parse(os.Args[1:])

	v := viper.New()
	v.BindPFlag("bridge.url", flags.Lookup("bridge"))

	cfg, err := config.Load(v)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	sender := bridge.NewWSSender(cfg.Bridge.URL, cfg.Bridge.AckTimeout)
	defer sender.Close()
	client := bridge.NewClient(sender, logger, cfg.Bridge.MaxRetries)

	// One retry plus slack for the dial
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Bridge.MaxRetries+2)*cfg.Bridge.AckTimeout)
	defer cancel()

	if *remove != "" {
		cmd := protocol.NewCommand(protocol.CommandRemove, models.StockEntry{Symbol: *remove})
		if _, err := client.Submit(ctx, cmd); err != nil {
			exit(logger, err)
		}
		fmt.Printf("Removed %s\n", *remove)
		return
	}

	snapshot, err := openSnapshot(ctx, *htmlPath, *pageURL)
	if err != nil {
		exit(logger, err)
	}
	defer snapshot.Close()

	overlay := capture.NewOverlay(capture.NewExtractor(cfg.Capture), client, logger)
	entry, err := overlay.HandleBookmarkAction(ctx, snapshot)
	if err != nil {
		exit(logger, err)
	}

	fmt.Printf("Bookmarked %s (added %s)\n", entry.Symbol, entry.AddedAt.Format(time.RFC3339))
}

func openSnapshot(ctx context.Context, path, url string) (io.ReadCloser, error) {
	switch {
	case path != "" && url != "":
		return nil, errors.New("use either --html or --url, not both")
	case path != "":
		return os.Open(path)
	case url != "":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", url, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetching %s: %s", url, resp.Status)
		}
		return resp.Body, nil
	default:
		return os.Stdin, nil
	}
}

func exit(logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrExtraction):
		fmt.Fprintln(os.Stderr, "No stock symbol found on this page")
	case errors.Is(err, models.ErrTimeout):
		fmt.Fprintln(os.Stderr, "Watchlist service did not answer; the bookmark may still be saved")
	case errors.Is(err, bridge.ErrRejected):
		fmt.Fprintf(os.Stderr, "Watchlist service refused the bookmark: %v\n", err)
	default:
		fmt.Fprintf(os.Stderr, "Bookmark failed: %v\n", err)
	}
	logger.Debug("Command failed", zap.Error(err))
	logger.Sync()
	os.Exit(1)
}
