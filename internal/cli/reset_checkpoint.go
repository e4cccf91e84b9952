package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var deleteCheckpoint bool

var resetCheckpointCmd = &cobra.Command{
	Use:   "reset-checkpoint [block_height]",
	Short: "Set the checkpoint to a given height, or delete it with --delete",
	Long: `Set the checkpoint to a given height. The next run resumes at
height minus delta. With --delete the checkpoint is removed and the next run
starts at genesis, loading the genesis snapshot again.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runResetCheckpoint,
}

func init() {
	resetCheckpointCmd.Flags().BoolVar(&deleteCheckpoint, "delete", false, "remove the checkpoint instead of setting it")
	rootCmd.AddCommand(resetCheckpointCmd)
}

func runResetCheckpoint(cmd *cobra.Command, args []string) {
	if deleteCheckpoint == (len(args) == 1) {
		fmt.Println("Pass either a block height or --delete")
		os.Exit(1)
	}

	cfg := loadConfig()
	ctx := context.Background()
	db := openDB(ctx, cfg)
	defer func() {
		_ = db.Close()
	}()

	if deleteCheckpoint {
		if err := db.Delete(ctx, cfg.Indexer.Name); err != nil {
			slog.Error("Failed to delete checkpoint", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted checkpoint %s\n", cfg.Indexer.Name)
		return
	}

	height, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Invalid block height: %v\n", err)
		os.Exit(1)
	}
	if err := db.Reset(ctx, cfg.Indexer.Name, height); err != nil {
		slog.Error("Failed to reset checkpoint", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset checkpoint %s to block %d\n", cfg.Indexer.Name, height)
}
