package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vindex/vindex/internal/discovery"
	"github.com/vindex/vindex/internal/model"
)

var (
	batchCSVPath string
	batchLimit   int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Discover every wine listed in a CSV file",
	Long: `Reads a CSV with a header row containing winery, wine_name and an
optional vintage column, and discovers each wine with bounded concurrency.
Known wines are served from the catalog without a search.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f, err := os.Open(batchCSVPath)
		if err != nil {
			return eris.Wrap(err, "batch: open csv")
		}
		reqs, err := readDiscoverRequests(f)
		_ = f.Close()
		if err != nil {
			return eris.Wrap(err, "batch: parse csv")
		}

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := processBatch(ctx, reqs, batchLimit, cfg.Batch.MaxConcurrent, env.Service.Discover)
		if err != nil {
			return err
		}
		fmt.Println(renderBatchResults(results))
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchCSVPath, "csv", "", "path to CSV file (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of rows to process (0 = all)")
	_ = batchCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(batchCmd)
}

// discoverFunc is the callback signature for discovering one wine.
type discoverFunc func(ctx context.Context, winery, name, vintage string) (*model.WineRecord, error)

type batchResult struct {
	Request discoverRequest
	Record  *model.WineRecord
	Err     error
}

// processBatch applies limit, then discovers requests concurrently. Individual
// failures are recorded in the results and do not abort the batch.
func processBatch(ctx context.Context, reqs []discoverRequest, limit, concurrency int, discover discoverFunc) ([]batchResult, error) {
	if len(reqs) == 0 {
		zap.L().Info("no wines to discover")
		return nil, nil
	}
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("wines", len(reqs)),
		zap.Int("concurrency", concurrency),
	)

	results := make([]batchResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for i, req := range reqs {
		g.Go(func() error {
			log := zap.L().With(zap.String("winery", req.Winery), zap.String("wine_name", req.WineName))

			rec, err := discover(gctx, req.Winery, req.WineName, req.Vintage)
			results[i] = batchResult{Request: req, Record: rec, Err: err}
			if err != nil {
				failed.Add(1)
				log.Warn("discovery failed", zap.Error(err))
				return nil
			}
			succeeded.Add(1)
			log.Info("discovery complete", zap.String("id", rec.ID))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results, nil
}

func renderBatchResults(results []batchResult) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status, id := "ok", ""
		switch {
		case r.Err == nil:
			id = r.Record.ID
		case discovery.IsDiscoveryFailed(r.Err):
			status = "not found: " + r.Err.Error()
		default:
			status = "error: " + r.Err.Error()
		}
		rows = append(rows, []string{r.Request.Winery, r.Request.WineName, r.Request.Vintage, status, id})
	}
	return renderTable([]string{"Winery", "Wine", "Vintage", "Status", "ID"}, rows, nil)
}
