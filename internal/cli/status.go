package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/indexer-base/internal/infra/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkpoint and stored row counts",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	db := openDB(ctx, cfg)
	defer func() {
		_ = db.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "INDEXER\tNETWORK\tCOMMITTED\tUPDATED")

	cp, err := db.Get(ctx, cfg.Indexer.Name)
	switch {
	case errors.Is(err, storage.ErrCheckpointNotFound):
		_, _ = fmt.Fprintf(w, "%s\t%s\t-\t-\n", cfg.Indexer.Name, cfg.Network)
	case err != nil:
		slog.Error("Failed to read checkpoint", "error", err)
		os.Exit(1)
	default:
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			cp.Name, cfg.Network, cp.LastCommittedHeight, cp.UpdatedAt.Format(time.RFC3339))
	}
	_, _ = fmt.Fprintln(w)

	stats, err := db.Stats(ctx)
	if err != nil {
		slog.Error("Failed to read table stats", "error", err)
		os.Exit(1)
	}
	_, _ = fmt.Fprintln(w, "BLOCKS\tCHUNKS\tACCOUNT EVENTS\tACCOUNTS\tLATEST")
	_, _ = fmt.Fprintf(w, "~%d\t~%d\t~%d\t~%d\t%d\n",
		stats.Blocks, stats.Chunks, stats.AccountEvents, stats.Accounts, stats.LatestHeight)
	_ = w.Flush()
}
