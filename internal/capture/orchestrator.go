// Package capture sequences presence detection, still capture, face
// comparison, gesture recording and liveness verification for one session.
//
// A single goroutine started by Run owns every transition. Presence signals,
// the countdown trigger, timer expirations and the results of asynchronous
// calls all arrive as events on that goroutine. Each result carries the epoch
// it was issued in; results from an earlier epoch are discarded.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/frame"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/presence"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/provider"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/recorder"
)

// Default timings.
const (
	DefaultSettleDelay       = 1200 * time.Millisecond
	DefaultCountdownDuration = 1500 * time.Millisecond
	DefaultRecordDuration    = 5 * time.Second
	DefaultMaxRetries        = 3

	flushTimeout = 10 * time.Second
)

// Timings parameterizes the orchestrator.
type Timings struct {
	SettleDelay time.Duration
	// CountdownDuration is not timed here. It is published so the caller
	// driving the countdown animation knows how long to wait.
	CountdownDuration time.Duration
	RecordDuration    time.Duration
	MaxRetries        int
	Bitrate           int
}

// DefaultTimings returns the production timings.
func DefaultTimings() Timings {
	return Timings{
		SettleDelay:       DefaultSettleDelay,
		CountdownDuration: DefaultCountdownDuration,
		RecordDuration:    DefaultRecordDuration,
		MaxRetries:        DefaultMaxRetries,
		Bitrate:           recorder.DefaultBitrate,
	}
}

// StillCapturer takes a snapshot of a frame source.
type StillCapturer interface {
	CaptureStill(src frame.Source) (*domain.Still, error)
}

// Recorder records clips from a media stream.
type Recorder interface {
	Start(stream recorder.MediaStream, bitrate int) error
	Stop(ctx context.Context) (*domain.Clip, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Presence <-chan presence.Signal
	Source   frame.Source
	Capturer StillCapturer
	Stream   recorder.MediaStream
	Recorder Recorder
	Matcher  provider.FaceMatcher
	Liveness provider.LivenessVerifier
	Clock    Clock
	Logger   *slog.Logger
}

// State is a snapshot of the session as seen by the display layer.
type State struct {
	Phase      domain.Phase   `json:"phase"`
	RetryCount int            `json:"retry_count"`
	Gesture    domain.Gesture `json:"gesture"`
	Status     string         `json:"status"`
	HasStill   bool           `json:"has_still"`
	HasClip    bool           `json:"has_clip"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Outcome reports a completed remote verification call.
type Outcome struct {
	Kind    domain.AttemptKind
	Number  int
	Passed  bool
	Err     error
	Latency time.Duration
}

type eventKind int

const (
	evCountdown eventKind = iota
	evSettled
	evRecordElapsed
	evMatched
	evClip
	evLiveness
	evGesture
)

type event struct {
	kind    eventKind
	epoch   uint64
	passed  bool
	clip    *domain.Clip
	err     error
	latency time.Duration
}

// Orchestrator is the capture state machine of one session.
type Orchestrator struct {
	deps    Deps
	timings Timings
	logger  *slog.Logger

	events chan event
	done   chan struct{}

	mu        sync.Mutex
	state     State
	stateSubs []func(State)
	outSubs   []func(Outcome)

	// Owned by the Run goroutine.
	epoch         uint64
	timer         Timer
	inFlight      bool
	settled       bool
	countdownDone bool
	stopping      bool
	still         *domain.Still
	clip          *domain.Clip
	matchAttempts int
	liveAttempts  int
}

// New creates an orchestrator in the Initializing phase.
func New(deps Deps, timings Timings, gesture domain.Gesture) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if gesture == "" {
		gesture = domain.DefaultGesture
	}
	o := &Orchestrator{
		deps:    deps,
		timings: timings,
		logger:  deps.Logger.With("component", "capture"),
		events:  make(chan event, 16),
		done:    make(chan struct{}),
	}
	o.state = State{
		Phase:     domain.PhaseInitializing,
		Gesture:   gesture,
		UpdatedAt: deps.Clock.Now(),
	}
	o.state.Status = Status(o.state, timings.MaxRetries)
	return o
}

// Timings returns the timings the orchestrator runs with.
func (o *Orchestrator) Timings() Timings { return o.timings }

// State returns the current snapshot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe registers fn to receive every state change. fn runs on the
// orchestrator goroutine and must not block.
func (o *Orchestrator) Subscribe(fn func(State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stateSubs = append(o.stateSubs, fn)
}

// SubscribeOutcomes registers fn to receive each verification result.
func (o *Orchestrator) SubscribeOutcomes(fn func(Outcome)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outSubs = append(o.outSubs, fn)
}

// SetGesture changes the requested gesture. The selection is locked once the
// flow has left AwaitingFace.
func (o *Orchestrator) SetGesture(g domain.Gesture) error {
	parsed, err := domain.ParseGesture(string(g))
	if err != nil || g == "" {
		return domain.ErrInvalidGesture
	}
	g = parsed

	o.mu.Lock()
	switch {
	case o.state.Phase.IsTerminal():
		o.mu.Unlock()
		return domain.ErrSessionTerminal
	case o.state.Phase != domain.PhaseInitializing && o.state.Phase != domain.PhaseAwaitingFace:
		o.mu.Unlock()
		return domain.ErrGestureLocked
	}
	o.state.Gesture = g
	o.state.Status = Status(o.state, o.timings.MaxRetries)
	o.state.UpdatedAt = o.deps.Clock.Now()
	o.mu.Unlock()

	// Subscribers only run on the Run goroutine, so the snapshot is
	// published from there, after any transition already queued.
	o.send(event{kind: evGesture})
	return nil
}

// CountdownComplete is the ready-to-record trigger. It is ignored outside
// AwaitingGestureCountdown.
func (o *Orchestrator) CountdownComplete() {
	o.send(event{kind: evCountdown})
}

// Done is closed when Run returns.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Run processes events until ctx is cancelled or a terminal phase is reached.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)
	defer o.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-o.deps.Presence:
			if !ok {
				return
			}
			o.onPresence(ctx, sig)
		case ev := <-o.events:
			o.onEvent(ctx, ev)
		}
		if o.phase().IsTerminal() {
			return
		}
	}
}

func (o *Orchestrator) send(ev event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

func (o *Orchestrator) phase() domain.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Phase
}

func (o *Orchestrator) onPresence(ctx context.Context, sig presence.Signal) {
	if !sig.Ready {
		return
	}

	switch p := o.phase(); {
	case p == domain.PhaseInitializing:
		if o.deps.Stream.Ready() {
			o.transition(domain.PhaseAwaitingFace)
		}
	case p == domain.PhaseAwaitingFace:
		if sig.Present {
			o.enterCapturing()
		}
	case p.BeforeRecording() && !sig.Present:
		o.logger.Info("face lost, resetting", slog.String("phase", string(p)))
		o.reset()
	case p == domain.PhaseCapturing && o.settled && o.still == nil:
		o.captureStill(ctx)
	}
}

func (o *Orchestrator) onEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case evMatched, evLiveness:
		o.inFlight = false
	}

	if ev.kind != evCountdown && ev.kind != evGesture && ev.epoch != o.epoch {
		o.logger.Debug("discarding stale event", slog.Int("kind", int(ev.kind)))
		o.resume(ctx)
		return
	}

	switch ev.kind {
	case evGesture:
		o.publish()
	case evCountdown:
		if o.phase() == domain.PhaseAwaitingGestureCountdown {
			o.countdownDone = true
			o.resume(ctx)
		}
	case evSettled:
		o.timer = nil
		o.settled = true
		o.captureStill(ctx)
	case evMatched:
		o.onMatched(ctx, ev)
	case evRecordElapsed:
		o.timer = nil
		o.stopRecording(ctx)
	case evClip:
		o.onClip(ctx, ev)
	case evLiveness:
		o.onLiveness(ev)
	}
}

// resume issues work that was held back while another verification call was
// outstanding.
func (o *Orchestrator) resume(ctx context.Context) {
	if o.inFlight {
		return
	}
	switch o.phase() {
	case domain.PhaseCapturing:
		if o.still != nil {
			o.verifyMatch(ctx)
		}
	case domain.PhaseAwaitingGestureCountdown:
		if o.countdownDone {
			o.startRecording(ctx)
		}
	case domain.PhaseRecording:
		if o.clip != nil && !o.stopping {
			o.verifyLiveness(ctx)
		}
	}
}

func (o *Orchestrator) enterCapturing() {
	o.transition(domain.PhaseCapturing)
	o.schedule(o.timings.SettleDelay, evSettled)
}

func (o *Orchestrator) captureStill(ctx context.Context) {
	still, err := o.deps.Capturer.CaptureStill(o.deps.Source)
	if err != nil {
		o.logger.Debug("still capture failed, waiting for next frame", slog.String("error", err.Error()))
		return
	}
	o.still = still
	o.publish()
	o.resume(ctx)
}

func (o *Orchestrator) verifyMatch(ctx context.Context) {
	still := o.still
	o.transition(domain.PhaseVerifyingMatch)
	o.inFlight = true
	o.matchAttempts++
	epoch := o.epoch

	go func() {
		start := time.Now()
		res, err := o.deps.Matcher.VerifyFaceMatch(ctx, still.Data)
		ev := event{kind: evMatched, epoch: epoch, err: err, latency: time.Since(start)}
		if err == nil && res != nil {
			ev.passed = res.Pass
		}
		o.send(ev)
	}()
}

func (o *Orchestrator) onMatched(ctx context.Context, ev event) {
	o.report(Outcome{
		Kind:    domain.AttemptFaceMatch,
		Number:  o.matchAttempts,
		Passed:  ev.err == nil && ev.passed,
		Err:     ev.err,
		Latency: ev.latency,
	})

	if ev.err != nil || !ev.passed {
		o.logger.Info("face comparison failed", slog.Any("error", ev.err))
		o.reset()
		return
	}
	o.transition(domain.PhaseAwaitingGestureCountdown)
	o.resume(ctx)
}

func (o *Orchestrator) startRecording(ctx context.Context) {
	o.countdownDone = false
	o.clip = nil
	o.transition(domain.PhaseRecording)

	if err := o.deps.Recorder.Start(o.deps.Stream, o.timings.Bitrate); err != nil {
		o.logger.Warn("recorder failed to start", slog.String("error", err.Error()))
		o.liveAttempts++
		o.report(Outcome{Kind: domain.AttemptLiveness, Number: o.liveAttempts, Err: err})
		o.retryOrFail()
		return
	}
	o.schedule(o.timings.RecordDuration, evRecordElapsed)
}

func (o *Orchestrator) stopRecording(ctx context.Context) {
	o.stopping = true
	epoch := o.epoch

	go func() {
		stopCtx, cancel := context.WithTimeout(ctx, flushTimeout)
		defer cancel()
		clip, err := o.deps.Recorder.Stop(stopCtx)
		if err == nil && clip == nil {
			err = errors.New("recorder produced no clip")
		}
		o.send(event{kind: evClip, epoch: epoch, clip: clip, err: err})
	}()
}

func (o *Orchestrator) onClip(ctx context.Context, ev event) {
	o.stopping = false
	if ev.err != nil {
		o.logger.Warn("recording failed", slog.String("error", ev.err.Error()))
		o.liveAttempts++
		o.report(Outcome{Kind: domain.AttemptLiveness, Number: o.liveAttempts, Err: ev.err})
		o.retryOrFail()
		return
	}
	o.clip = ev.clip
	o.publish()
	o.resume(ctx)
}

func (o *Orchestrator) verifyLiveness(ctx context.Context) {
	clip := o.clip
	gesture := o.State().Gesture
	o.transition(domain.PhaseVerifyingLiveness)
	o.inFlight = true
	o.liveAttempts++
	epoch := o.epoch

	go func() {
		start := time.Now()
		res, err := o.deps.Liveness.VerifyLiveness(ctx, clip, gesture)
		ev := event{kind: evLiveness, epoch: epoch, err: err, latency: time.Since(start)}
		if err == nil && res != nil {
			ev.passed = res.Pass
		}
		o.send(ev)
	}()
}

func (o *Orchestrator) onLiveness(ev event) {
	passed := ev.err == nil && ev.passed
	o.report(Outcome{
		Kind:    domain.AttemptLiveness,
		Number:  o.liveAttempts,
		Passed:  passed,
		Err:     ev.err,
		Latency: ev.latency,
	})

	if passed {
		o.transition(domain.PhaseSuccess)
		return
	}
	if ev.err != nil {
		o.logger.Warn("liveness verification error", slog.String("error", ev.err.Error()))
	}
	o.retryOrFail()
}

// retryOrFail handles a failed recording attempt. retryCount never exceeds
// MaxRetries: the failure that would push it past the bound ends the session.
func (o *Orchestrator) retryOrFail() {
	o.clip = nil

	o.mu.Lock()
	exhausted := o.state.RetryCount >= o.timings.MaxRetries
	if !exhausted {
		o.state.RetryCount++
	}
	o.mu.Unlock()

	if exhausted {
		o.transition(domain.PhaseFailed)
		return
	}
	o.transition(domain.PhaseRetrying)
	o.transition(domain.PhaseAwaitingGestureCountdown)
}

// reset discards the still and clip and waits for a face again. Calls
// already in flight are left to complete and their results are ignored.
func (o *Orchestrator) reset() {
	o.still = nil
	o.clip = nil
	o.countdownDone = false
	o.transition(domain.PhaseAwaitingFace)
}

func (o *Orchestrator) schedule(d time.Duration, kind eventKind) {
	epoch := o.epoch
	o.timer = o.deps.Clock.AfterFunc(d, func() {
		o.send(event{kind: kind, epoch: epoch})
	})
}

func (o *Orchestrator) cancelTimer() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

// transition moves to phase, cancelling the timer of the phase being left.
func (o *Orchestrator) transition(to domain.Phase) {
	o.cancelTimer()
	o.epoch++
	o.settled = false

	o.mu.Lock()
	from := o.state.Phase
	o.state.Phase = to
	o.mu.Unlock()

	o.logger.Info("phase transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Int("retry_count", o.State().RetryCount),
	)
	o.publish()
}

func (o *Orchestrator) publish() {
	o.mu.Lock()
	o.state.HasStill = o.still != nil
	o.state.HasClip = o.clip != nil
	o.state.Status = Status(o.state, o.timings.MaxRetries)
	o.state.UpdatedAt = o.deps.Clock.Now()
	snap, subs := o.state, o.stateSubs
	o.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (o *Orchestrator) report(out Outcome) {
	o.mu.Lock()
	subs := o.outSubs
	o.mu.Unlock()

	for _, fn := range subs {
		fn(out)
	}
}

func (o *Orchestrator) shutdown() {
	o.cancelTimer()
	if o.phase() == domain.PhaseRecording && !o.stopping {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if _, err := o.deps.Recorder.Stop(ctx); err != nil {
			o.logger.Warn("recorder stop on shutdown failed", slog.String("error", err.Error()))
		}
	}
}
