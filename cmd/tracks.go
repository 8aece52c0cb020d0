package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const tracksTimeout = 20 * time.Second

var tracksCmd = &cobra.Command{
	Use:   "tracks [uri]",
	Short: "List the audio languages of a stream",
	Args:  cobra.MaximumNArgs(1),
	RunE:  tracksRun,
}

func init() {
	f := tracksCmd.Flags()
	f.StringVarP(&flagContentFile, "content", "f", "", "Read the content descriptor from a TOML file")
	f.StringVar(&flagScheme, "drm-scheme", "", "Key system, e.g. com.widevine.alpha")
	f.StringVar(&flagLicenseURI, "license-uri", "", "License server URL")
	f.BoolVar(&flagSecure, "secure", false, "Require hardware-backed decryption")
	f.StringArrayVarP(&flagHeaders, "header", "H", nil, "License request header Key=Value (repeatable)")
	f.BoolVarP(&flagJSON, "json", "j", false, "Print languages as a JSON array")
}

func tracksRun(cmd *cobra.Command, args []string) error {
	d, err := descriptorFromFlags(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newAdapter(cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Load(d, false); err != nil {
		return fmt.Errorf("loading content: %w", err)
	}
	defer func() {
		if err := a.Unload(); err != nil {
			logger.Warn().Err(err).Msg("unload failed")
		}
	}()

	// Track lists fill in once the stream is initialized.
	var langs []string
	err = waitFor(ctx, tracksTimeout, func() (bool, error) {
		l, err := a.AudioLanguages()
		if err != nil {
			return false, err
		}
		langs = l
		return len(l) > 0, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for audio tracks: %w", err)
	}

	if flagJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(langs)
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(langs, "\n"))
	return nil
}
