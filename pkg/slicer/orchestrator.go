// Package slicer drives the external slicing engine and prices its output.
package slicer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/printshop/pkg/models"
	"github.com/example/printshop/pkg/pricing"
	"go.uber.org/zap"
)

var ErrSlicingFailed = errors.New("slicing failed")

const FormatSTL = "stl"

type EngineRequest struct {
	File      []byte
	Format    string
	Overrides []Override
}

// Metadata is what the engine reports about the sliced model. Any field may be zero when the
// engine did not report it.
type Metadata struct {
	FilamentUsage float64 `json:"filamentUsage"`
	PrintTime     float64 `json:"printTime"`
	Volume        float64 `json:"volume"`
	Height        float64 `json:"height"`
	Width         float64 `json:"width"`
	Depth         float64 `json:"depth"`
}

type EngineResult struct {
	GCodeLength int
	Metadata    *Metadata
}

// Engine slices a model, calling progress with percentages as it goes.
type Engine interface {
	Slice(ctx context.Context, req *EngineRequest, progress func(percent int)) (*EngineResult, error)
}

type Result struct {
	GCodeLength int                   `json:"gcodeLength"`
	Metadata    Metadata              `json:"metadata"`
	Details     models.PrintDetails   `json:"details"`
	Price       models.PriceBreakdown `json:"price"`
}

type Orchestrator struct {
	engine  Engine
	format  string
	timeout time.Duration
	logger  *zap.Logger
}

type Option func(*Orchestrator)

// WithTimeout bounds every engine call; zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// NewOrchestrator runs slices on engine. Without WithTimeout a slice runs until its context ends.
func NewOrchestrator(engine Engine, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine: engine,
		format: FormatSTL,
		logger: logger.Named("slicer"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Task is one running slice. Progress yields increasing percentages and is closed when the
// task ends; Wait blocks until then.
type Task struct {
	progress chan int
	done     chan struct{}
	cancel   context.CancelFunc

	mu     sync.Mutex
	last   int
	closed bool
	result *Result
	err    error
}

func (t *Task) Progress() <-chan int {
	return t.progress
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the slice finishes.
func (t *Task) Wait() (*Result, error) {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Cancel stops the engine call; Wait then returns an ErrSlicingFailed.
func (t *Task) Cancel() {
	t.cancel()
}

// report forwards strictly increasing values only, so at most 101 values are ever sent and
// the buffered channel never blocks the engine.
func (t *Task) report(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || percent <= t.last {
		return
	}
	t.last = percent
	t.progress <- percent
}

// Start slices file in the background and returns immediately. Progress on the task is
// monotonic and ends at 100 on success; the channel closes before Done.
func (o *Orchestrator) Start(ctx context.Context, file []byte, settings models.PrintSettings) *Task {
	var cancel context.CancelFunc
	if o.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	t := &Task{
		progress: make(chan int, 101),
		done:     make(chan struct{}),
		cancel:   cancel,
		last:     -1,
	}

	go func() {
		defer close(t.done)
		defer cancel()

		res, err := o.run(ctx, file, settings, t.report)
		if err == nil {
			t.report(100)
		}
		t.mu.Lock()
		t.result, t.err = res, err
		t.closed = true
		close(t.progress)
		t.mu.Unlock()
	}()
	return t
}

// Slice runs a task to completion.
func (o *Orchestrator) Slice(ctx context.Context, file []byte, settings models.PrintSettings) (*Result, error) {
	return o.Start(ctx, file, settings).Wait()
}

func (o *Orchestrator) run(ctx context.Context, file []byte, settings models.PrintSettings, progress func(int)) (*Result, error) {
	req := &EngineRequest{
		File:      file,
		Format:    o.format,
		Overrides: BuildOverrides(settings),
	}

	o.logger.Info("Slicing started",
		zap.Int("bytes", len(file)),
		zap.String("material", string(settings.MaterialType)),
		zap.Float64("layer_height", settings.LayerHeight))

	out, err := o.engine.Slice(ctx, req, progress)
	if err != nil {
		o.logger.Error("Slicing failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSlicingFailed, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: engine returned no result", ErrSlicingFailed)
	}

	var meta Metadata
	if out.Metadata != nil {
		meta = *out.Metadata
	} else {
		o.logger.Warn("Engine returned no metadata, pricing packaging only")
	}

	res := &Result{
		GCodeLength: out.GCodeLength,
		Metadata:    meta,
		Details: models.PrintDetails{
			FilamentGrams: pricing.FilamentGrams(meta.FilamentUsage, settings.MaterialType, settings.InfillDensity, settings.SupportEnable),
			FilamentMm:    meta.FilamentUsage,
			Volume:        meta.Volume,
			PrintSeconds:  meta.PrintTime,
		},
		Price: pricing.EstimatePrice(meta.FilamentUsage, meta.PrintTime, settings.MaterialType, settings.InfillDensity, settings.SupportEnable),
	}

	o.logger.Info("Slicing finished",
		zap.Int("gcode_length", res.GCodeLength),
		zap.Int64("grams", res.Details.FilamentGrams),
		zap.Int64("final_price", res.Price.FinalPrice))
	return res, nil
}
