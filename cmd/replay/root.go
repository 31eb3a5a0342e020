package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/audit"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/capture"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/config"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/face"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/frame"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/presence"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider/mock"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/recorder"
)

// Version is the application version.
const Version = "0.1.0"

// ErrVerificationFailed makes the process exit non-zero on a failed session.
var ErrVerificationFailed = errors.New("verification failed")

type options struct {
	FramesDir string
	ClipPath  string
	Reference string
	Gesture   string
	FPS       int
	Providers string
	Timeout   time.Duration
	Verbose   bool
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:     "replay",
		Short:   "Drive one capture session offline from recorded frames and a clip",
		Version: Version,
		Long: `replay feeds a directory of still frames (JPEG or PNG, in name order) into a
local capture session at a fixed rate, completes the countdown automatically,
serves the clip file as the camera recording, and prints every transition
until the session succeeds or fails.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.FramesDir, "frames", "", "directory of still frames")
	f.StringVar(&opts.ClipPath, "clip", "", "recorded gesture clip (.webm or .mp4)")
	f.StringVar(&opts.Reference, "reference", "", "reference image for face comparison")
	f.StringVar(&opts.Gesture, "gesture", string(domain.DefaultGesture), "gesture: blink, mouth, yaw, nod")
	f.IntVar(&opts.FPS, "fps", 5, "frames per second fed to the session")
	f.StringVar(&opts.Providers, "providers", "mock", `"mock" for offline providers, "env" to build them from the service environment`)
	f.DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "give up after this long")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "log component activity to stderr")
	_ = cmd.MarkFlagRequired("frames")
	_ = cmd.MarkFlagRequired("clip")

	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	return cmd
}

// backends are the verification collaborators of the replayed session.
type backends struct {
	detector provider.FaceDetector
	matcher  provider.FaceMatcher
	liveness provider.LivenessVerifier
	timings  capture.Timings
	presence presence.Config
}

func runReplay(ctx context.Context, out io.Writer, opts options) error {
	if opts.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %d", opts.FPS)
	}
	gesture, err := domain.ParseGesture(opts.Gesture)
	if err != nil {
		return err
	}

	frames, err := loadFrames(opts.FramesDir)
	if err != nil {
		return err
	}
	stream, err := openClip(opts.ClipPath)
	if err != nil {
		return err
	}

	var reference []byte
	if opts.Reference != "" {
		if reference, err = os.ReadFile(opts.Reference); err != nil {
			return fmt.Errorf("read reference: %w", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	b, err := buildBackends(ctx, opts.Providers, reference, logger)
	if err != nil {
		return err
	}

	mailbox := frame.NewMailbox()
	monitor := presence.NewMonitor(b.detector, mailbox, b.presence, logger)
	orch := capture.New(capture.Deps{
		Presence: monitor.Signals(),
		Source:   mailbox,
		Capturer: frame.NewCapturer(),
		Stream:   stream,
		Recorder: recorder.New(logger),
		Matcher:  b.matcher,
		Liveness: b.liveness,
		Clock:    capture.SystemClock(),
		Logger:   logger,
	}, b.timings, gesture)

	start := time.Now()
	printer := newPrinter(out, start)
	countdown := b.timings.CountdownDuration

	// Stands in for the countdown animation of the browser. A countdown
	// interrupted by a face loss must not fire into the next one.
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	orch.Subscribe(func(s capture.State) {
		printer.state(s)

		mu.Lock()
		defer mu.Unlock()
		if s.Phase != domain.PhaseAwaitingGestureCountdown {
			if timer != nil {
				timer.Stop()
				timer = nil
			}
			return
		}
		if timer == nil {
			timer = time.AfterFunc(countdown, orch.CountdownComplete)
		}
	})
	orch.SubscribeOutcomes(printer.outcome)

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	go monitor.Run(runCtx)
	go feedFrames(runCtx, mailbox, frames, opts.FPS)
	go orch.Run(runCtx)

	select {
	case <-orch.Done():
	case <-ctx.Done():
		stopRun()
		<-orch.Done()
		return fmt.Errorf("replay stopped in phase %s: %w", orch.State().Phase, ctx.Err())
	}

	final := orch.State()
	fmt.Fprintf(out, "result: %s after %s (retries %d)\n", final.Phase, time.Since(start).Round(time.Millisecond), final.RetryCount)
	if final.Phase != domain.PhaseSuccess {
		return ErrVerificationFailed
	}
	return nil
}

func buildBackends(ctx context.Context, kind string, reference []byte, logger *slog.Logger) (*backends, error) {
	switch kind {
	case "mock":
		p := mock.New()
		return &backends{
			detector: p,
			matcher:  p,
			liveness: p,
			timings:  capture.DefaultTimings(),
			presence: presence.DefaultConfig(),
		}, nil

	case "env":
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		factory := face.NewFactory(cfg, audit.NewSlogLogger(logger))
		detector, err := factory.Detector(ctx)
		if err != nil {
			return nil, fmt.Errorf("detector: %w", err)
		}
		matcher, err := factory.Matcher(ctx, uuid.New(), reference)
		if err != nil {
			return nil, fmt.Errorf("matcher: %w", err)
		}
		return &backends{
			detector: detector,
			matcher:  matcher,
			liveness: factory.Liveness(),
			timings:  cfg.Capture(),
			presence: cfg.Presence(),
		}, nil

	default:
		return nil, fmt.Errorf("unknown providers %q (use mock or env)", kind)
	}
}

// loadFrames reads every JPEG or PNG in dir, in name order.
func loadFrames(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if len(names) == 0 {
		return nil, fmt.Errorf("no frames in %s", dir)
	}

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", name, err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}

// feedFrames publishes frames at fps, looping until ctx is done. Undecodable
// frames are skipped.
func feedFrames(ctx context.Context, mailbox *frame.Mailbox, frames [][]byte, fps int) {
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for i := 0; ; i = (i + 1) % len(frames) {
		if f, err := frame.Decode(frames[i], time.Now()); err == nil {
			mailbox.Publish(f)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
