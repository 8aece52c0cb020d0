package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dashplay/internal/config"
	"dashplay/internal/content"
	"dashplay/internal/history"
	"dashplay/internal/mpris"
	"dashplay/internal/player"
	"dashplay/internal/protection"
	"dashplay/internal/ui"
)

var (
	flagContentFile string
	flagScheme      string
	flagLicenseURI  string
	flagSecure      bool
	flagHeaders     []string
	flagAutoplay    bool
	flagContinue    bool
	flagMPRIS       bool
	flagJSON        bool
	flagTitle       string
)

const resumeTimeout = 15 * time.Second

var playCmd = &cobra.Command{
	Use:   "play [uri]",
	Short: "Load and play a DASH stream",
	Args:  cobra.MaximumNArgs(1),
	RunE:  playRun,
}

func init() {
	f := playCmd.Flags()
	f.StringVarP(&flagContentFile, "content", "f", "", "Read the content descriptor from a TOML file")
	f.StringVar(&flagScheme, "drm-scheme", "", "Key system, e.g. com.widevine.alpha")
	f.StringVar(&flagLicenseURI, "license-uri", "", "License server URL")
	f.BoolVar(&flagSecure, "secure", false, "Require hardware-backed decryption")
	f.StringArrayVarP(&flagHeaders, "header", "H", nil, "License request header Key=Value (repeatable)")
	f.BoolVarP(&flagAutoplay, "autoplay", "a", true, "Start playing once loaded")
	f.BoolVarP(&flagContinue, "continue", "c", false, "Resume from the saved position")
	f.BoolVar(&flagMPRIS, "mpris", false, "Expose the player over MPRIS on the session bus")
	f.BoolVarP(&flagJSON, "json", "j", false, "Print the protection data as JSON and exit")
	f.StringVarP(&flagTitle, "title", "t", "", "Title shown in the UI and history")
}

// descriptorFromFlags builds the content descriptor from --content, the
// positional uri and the DRM flags, later sources overriding earlier ones.
func descriptorFromFlags(cmd *cobra.Command, args []string) (content.Descriptor, error) {
	var d content.Descriptor
	if flagContentFile != "" {
		var err error
		if d, err = content.LoadFile(flagContentFile); err != nil {
			return d, err
		}
	}
	if len(args) > 0 {
		d.URI = args[0]
	}
	if flagScheme != "" {
		d.DRMScheme = flagScheme
	}
	if flagLicenseURI != "" {
		d.DRMLicenseURI = flagLicenseURI
	}
	if cmd.Flags().Changed("secure") {
		d.Secure = "false"
		if flagSecure {
			d.Secure = "true"
		}
	}
	for _, raw := range flagHeaders {
		h, err := content.ParseHeader(raw)
		if err != nil {
			return d, err
		}
		d.DRMLicenseHeaders = append(d.DRMLicenseHeaders, h)
	}
	if d.URI == "" {
		return d, fmt.Errorf("no content uri: pass one or use --content")
	}
	return d, nil
}

func playRun(cmd *cobra.Command, args []string) error {
	d, err := descriptorFromFlags(cmd, args)
	if err != nil {
		return err
	}

	// JSON output mode
	if flagJSON {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("invalid content: %w", err)
		}
		data, _ := protection.Build(d)
		out := map[string]interface{}{
			"uri":            d.URI,
			"protectionData": data,
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	autoplay := cfg.Autoplay
	if cmd.Flags().Changed("autoplay") {
		autoplay = flagAutoplay
	}

	var startPos float64
	if flagContinue && cfg.History {
		if e, err := lookupHistory(d.URI); err == nil {
			startPos = e.Position
			if flagTitle == "" {
				flagTitle = e.Title
			}
		} else if !errors.Is(err, history.ErrNotFound) {
			logger.Warn().Err(err).Msg("reading history")
		}
	}

	return playContent(d, autoplay, startPos)
}

func lookupHistory(uri string) (history.Entry, error) {
	store, err := openHistory()
	if err != nil {
		return history.Entry{}, err
	}
	defer store.Close()
	return store.Get(uri)
}

func openHistory() (*history.Store, error) {
	path, err := config.HistoryPath()
	if err != nil {
		return nil, err
	}
	return history.Open(path)
}

// playContent loads d, optionally resumes at startPos, and hands control to
// the terminal UI until the user quits or a signal arrives.
func playContent(d content.Descriptor, autoplay bool, startPos float64) error {
	interactive := ui.IsInteractive()
	if interactive {
		closeLog, err := logToFile()
		if err != nil {
			return err
		}
		defer closeLog()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newAdapter(cfg, logger)
	if err != nil {
		return err
	}

	if err := a.Load(d, autoplay); err != nil {
		return fmt.Errorf("loading content: %w", err)
	}

	if startPos > 0 {
		logger.Info().Float64("position", startPos).Msg("resuming")
		err := waitFor(ctx, resumeTimeout, func() (bool, error) {
			return a.SeekTo(startPos) == nil, nil
		})
		if err != nil {
			logger.Warn().Err(err).Msg("resume failed, starting from the beginning")
		}
	}

	if flagMPRIS {
		srv := mpris.New(a, logger)
		if err := srv.Start(); err != nil {
			logger.Warn().Err(err).Msg("mpris unavailable")
		} else {
			defer srv.Close()
			srv.Loaded(d.URI, flagTitle, autoplay)
			go srv.Run(ctx, time.Second)
		}
	}

	if !interactive {
		fmt.Fprintf(os.Stderr, "Playing %s (Ctrl+C to stop)\n", d.URI)
	}

	return ui.Run(ctx, a, ui.Options{
		Title:      flagTitle,
		Autoplay:   autoplay,
		VolumeStep: cfg.VolumeStep,
		RateStep:   cfg.RateStep,
		OnQuit: func(st player.Status) {
			saveHistory(d.URI, flagTitle, st.Position, st.Duration)
		},
	})
}

func saveHistory(uri, title string, position, duration float64) {
	if !cfg.History || position <= 0 {
		return
	}
	store, err := openHistory()
	if err != nil {
		logger.Debug().Err(err).Msg("opening history failed")
		return
	}
	defer store.Close()
	if err := store.Save(history.Entry{URI: uri, Title: title, Position: position, Duration: duration}); err != nil {
		logger.Debug().Err(err).Msg("saving history failed")
	}
}

// waitFor polls cond until it reports true, returns an error, or timeout
// elapses.
func waitFor(ctx context.Context, timeout time.Duration, cond func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()
	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
