package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dashplay/internal/content"
	"dashplay/internal/history"
	"dashplay/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved resume positions",
	Args:  cobra.NoArgs,
	RunE:  historyRun,
}

var historyRmCmd = &cobra.Command{
	Use:   "rm <uri>",
	Short: "Forget the saved position of a stream",
	Args:  cobra.ExactArgs(1),
	RunE:  historyRmRun,
}

var historyResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Pick a stream from history and resume it",
	Args:  cobra.NoArgs,
	RunE:  historyResumeRun,
}

func init() {
	historyCmd.AddCommand(historyRmCmd)
	historyCmd.AddCommand(historyResumeCmd)
}

func loadHistory() ([]history.Entry, error) {
	store, err := openHistory()
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.List()
}

func historyRun(cmd *cobra.Command, args []string) error {
	entries, err := loadHistory()
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No history entries found.")
		return nil
	}

	for _, line := range history.FormatForDisplay(entries) {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}

func historyRmRun(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer store.Close()

	if err := store.Remove(args[0]); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("no history entry for %s", args[0])
		}
		return err
	}
	return nil
}

// historyResumeRun replays a stored entry as clear content; DRM parameters
// are never persisted, so protected streams must be resumed with play -c.
func historyResumeRun(cmd *cobra.Command, args []string) error {
	entries, err := loadHistory()
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No history entries found.")
		return nil
	}

	idx, err := ui.Select("History", history.FormatForDisplay(entries))
	if err != nil {
		return err
	}

	selected := entries[idx]
	logger.Debug().Str("uri", selected.URI).Float64("position", selected.Position).Msg("resuming from history")

	flagTitle = selected.Title
	return playContent(content.Descriptor{URI: selected.URI}, cfg.Autoplay, selected.Position)
}
