// Package transcribe runs the complete audio-to-MIDI pipeline.
//
// A [Transcriber] owns one frame analyzer, one detector, one segmenter and one
// assembler. Each call to [Transcriber.Transcribe] feeds a mono sample buffer
// through them strictly in order:
//
//	samples → features → onsets and pitch tracks → notes → note sequence
//
// and [Transcriber.TranscribeToMIDI] additionally serialises the sequence as a
// Standard MIDI File. Every failure is returned as an [*Error] whose [Kind]
// tells configuration problems, bad input and internal defects apart. A call
// either returns a complete sequence or an error, never both.
//
// Usage:
//
//	t, err := transcribe.New(transcribe.DefaultOptions())
//	if err != nil { ... }
//	defer t.Close()
//	data, err := t.TranscribeToMIDI(samples, 16000)
package transcribe

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/notescribe/internal/observe"
	"github.com/MrWong99/notescribe/pkg/analysis"
	"github.com/MrWong99/notescribe/pkg/assemble"
	"github.com/MrWong99/notescribe/pkg/audio"
	"github.com/MrWong99/notescribe/pkg/detect"
	"github.com/MrWong99/notescribe/pkg/midifile"
	"github.com/MrWong99/notescribe/pkg/segment"
	"github.com/MrWong99/notescribe/pkg/types"
)

// Options holds the configuration of every pipeline stage.
type Options struct {
	Analysis     analysis.Config
	Detection    detect.SpectralConfig
	Segmentation segment.Config
	Assembly     assemble.Config
}

// DefaultOptions returns the default configuration of every stage.
func DefaultOptions() Options {
	return Options{
		Analysis:     analysis.DefaultConfig(),
		Detection:    detect.DefaultSpectralConfig(),
		Segmentation: segment.DefaultConfig(),
		Assembly:     assemble.DefaultConfig(),
	}
}

// Option is a functional option for [New].
type Option func(*Transcriber)

// WithDetector replaces the built-in spectral detector. The Transcriber takes
// ownership of d and closes it in [Transcriber.Close].
func WithDetector(d detect.Detector) Option {
	return func(t *Transcriber) {
		t.detector = d
	}
}

// WithMetrics records stage latencies and transcription outcomes to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Transcriber) {
		t.metrics = m
	}
}

// WithLogger sets the logger used for stage timings and failures. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(t *Transcriber) {
		t.log = l
	}
}

// Transcriber converts audio buffers into note sequences.
//
// Transcriber holds only immutable configuration and its detector and is safe
// for concurrent use. Calls made after Close fail with [KindConfiguration].
type Transcriber struct {
	analyzer  *analysis.Analyzer
	detector  detect.Detector
	segmenter *segment.Segmenter
	assembler *assemble.Assembler

	metrics *observe.Metrics
	log     *slog.Logger
	closed  atomic.Bool
}

// New validates opts, builds every stage and loads the detector. Invalid
// options fail with [KindConfiguration].
func New(opts Options, options ...Option) (*Transcriber, error) {
	t := &Transcriber{log: slog.Default()}
	for _, o := range options {
		o(t)
	}

	var err error
	if t.analyzer, err = analysis.New(opts.Analysis); err != nil {
		return nil, wrap("new", err)
	}
	if t.segmenter, err = segment.New(opts.Segmentation); err != nil {
		return nil, wrap("new", err)
	}
	if t.assembler, err = assemble.New(opts.Assembly); err != nil {
		return nil, wrap("new", err)
	}
	if t.detector == nil {
		if t.detector, err = detect.NewSpectral(opts.Detection); err != nil {
			return nil, wrap("new", err)
		}
	}
	return t, nil
}

// Close releases the detector. It is idempotent.
func (t *Transcriber) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.detector.Close()
}

// Closed reports whether Close has been called.
func (t *Transcriber) Closed() bool {
	return t.closed.Load()
}

// Transcribe converts samples recorded at sampleRate into a note sequence.
//
// A nil samples slice or a non-positive sampleRate fails with
// [KindInvalidInput]. An empty, non-nil slice is valid and yields a sequence
// without notes.
func (t *Transcriber) Transcribe(samples []float64, sampleRate int) (*types.NoteSequence, error) {
	return t.TranscribeContext(context.Background(), samples, sampleRate)
}

// TranscribeContext is [Transcriber.Transcribe] with a context carrying the
// trace and request-scoped logging attributes. The pipeline itself does not
// observe cancellation.
func (t *Transcriber) TranscribeContext(ctx context.Context, samples []float64, sampleRate int) (*types.NoteSequence, error) {
	ctx, span := observe.StartSpan(ctx, "transcribe",
		trace.WithAttributes(
			attribute.Int("audio.samples", len(samples)),
			attribute.Int("audio.sample_rate", sampleRate),
		),
	)
	defer span.End()

	seq, err := t.run(ctx, samples, sampleRate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("notes", seq.NoteCount()))
	return seq, nil
}

// TranscribeToMIDI is [Transcriber.Transcribe] followed by MIDI encoding.
func (t *Transcriber) TranscribeToMIDI(samples []float64, sampleRate int) ([]byte, error) {
	_, data, err := t.TranscribeToMIDIContext(context.Background(), samples, sampleRate)
	return data, err
}

// TranscribeToMIDIContext transcribes samples and returns both the sequence
// and its Standard MIDI File encoding.
func (t *Transcriber) TranscribeToMIDIContext(ctx context.Context, samples []float64, sampleRate int) (*types.NoteSequence, []byte, error) {
	seq, err := t.TranscribeContext(ctx, samples, sampleRate)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	data, err := midifile.Encode(seq)
	t.stage(ctx, observe.StageEncode, time.Since(start))
	if err != nil {
		return nil, nil, t.fail(ctx, wrap(observe.StageEncode, err))
	}
	return seq, data, nil
}

func (t *Transcriber) run(ctx context.Context, samples []float64, sampleRate int) (*types.NoteSequence, error) {
	if t.closed.Load() {
		return nil, t.fail(ctx, &Error{Kind: KindConfiguration, Op: "transcribe", Err: ErrClosed})
	}
	if samples == nil {
		return nil, t.fail(ctx, &Error{Kind: KindInvalidInput, Op: "transcribe", Err: errNilSamples})
	}
	if sampleRate <= 0 {
		return nil, t.fail(ctx, &Error{Kind: KindInvalidInput, Op: "transcribe", Err: errSampleRate(sampleRate)})
	}

	if t.metrics != nil {
		t.metrics.ActiveTranscriptions.Add(ctx, 1)
		defer t.metrics.ActiveTranscriptions.Add(ctx, -1)
	}
	begin := time.Now()
	buf := audio.Buffer{Samples: samples, SampleRate: sampleRate}

	stream, err := t.analyzer.Analyze(buf)
	if err != nil {
		return nil, t.fail(ctx, wrap(observe.StageAnalyze, err))
	}

	// Analysis is lazy, so its cost is the time spent producing frames while
	// the detector iterates.
	var producing time.Duration
	frames := timed(stream.All(), &producing)
	start := time.Now()
	res, detectErr := t.detect(frames)
	detectTotal := time.Since(start)
	t.stage(ctx, observe.StageAnalyze, producing)
	t.stage(ctx, observe.StageDetect, detectTotal-producing)
	if err := stream.Err(); err != nil {
		return nil, t.fail(ctx, wrap(observe.StageAnalyze, err))
	}
	if detectErr != nil {
		return nil, t.fail(ctx, wrap(observe.StageDetect, detectErr))
	}

	start = time.Now()
	notes := t.segmenter.Segment(res.Onsets, res.Tracks)
	t.stage(ctx, observe.StageSegment, time.Since(start))

	start = time.Now()
	seq, err := t.assembler.Assemble(notes, nil)
	t.stage(ctx, observe.StageAssemble, time.Since(start))
	if err != nil {
		return nil, t.fail(ctx, wrap(observe.StageAssemble, err))
	}

	elapsed := time.Since(begin)
	if t.metrics != nil {
		t.metrics.RecordTranscription(ctx, elapsed, buf.Seconds(), seq.NoteCount())
	}
	t.logger(ctx).Debug("transcription finished",
		"audio", buf.String(),
		"onsets", len(res.Onsets),
		"tracks", len(res.Tracks),
		"notes", seq.NoteCount(),
		"duration", elapsed,
	)
	return seq, nil
}

// detect runs the detector, turning a panic into an internal consistency
// error so it never crosses the pipeline boundary.
func (t *Transcriber) detect(frames iter.Seq[types.FeatureVector]) (res detect.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: KindInternalConsistency, Op: observe.StageDetect, Err: fmt.Errorf("detector panicked: %v", r)}
		}
	}()
	return t.detector.Detect(frames)
}

// timed wraps seq and accumulates into total the time spent waiting for seq
// to produce each value.
func timed[T any](seq iter.Seq[T], total *time.Duration) iter.Seq[T] {
	return func(yield func(T) bool) {
		mark := time.Now()
		for v := range seq {
			*total += time.Since(mark)
			if !yield(v) {
				return
			}
			mark = time.Now()
		}
		*total += time.Since(mark)
	}
}

func (t *Transcriber) stage(ctx context.Context, stage string, d time.Duration) {
	if t.metrics != nil {
		t.metrics.RecordStage(ctx, stage, d)
	}
	t.logger(ctx).Debug("stage finished", "stage", stage, "duration", d)
}

// fail records err and returns it unchanged.
func (t *Transcriber) fail(ctx context.Context, err error) error {
	kind := KindOf(err)
	if t.metrics != nil {
		t.metrics.RecordTranscriptionError(ctx, kind.String())
	}
	if kind == KindInternalConsistency {
		t.logger(ctx).Error("transcription failed", "kind", kind.String(), "err", err)
	} else {
		t.logger(ctx).Debug("transcription rejected", "kind", kind.String(), "err", err)
	}
	return err
}

// logger returns t.log enriched with the request identifiers in ctx.
func (t *Transcriber) logger(ctx context.Context) *slog.Logger {
	l := t.log
	if cid := observe.CorrelationID(ctx); cid != "" {
		l = l.With("trace_id", cid)
	}
	if rid := observe.RequestID(ctx); rid != "" {
		l = l.With("request_id", rid)
	}
	return l
}
