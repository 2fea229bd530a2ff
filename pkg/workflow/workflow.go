// Package workflow is the quoting workflow of one session: load a file, analyse it, add it to the
// order, apply a coupon, check out.
package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/example/printshop/pkg/dimension"
	"github.com/example/printshop/pkg/models"
	"github.com/example/printshop/pkg/order"
	"github.com/example/printshop/pkg/slicer"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle              State = "idle"
	StateFileLoaded        State = "fileLoaded"
	StateDimensionsInvalid State = "dimensionsInvalid"
	StateAnalyzing         State = "analyzing"
	StateAnalyzed          State = "analyzed"
	StateSavingFile        State = "savingFile"
	StateCheckingOut       State = "checkingOut"
)

var (
	ErrInvalidFile       = errors.New("only .stl files are supported")
	ErrInvalidTransition = errors.New("operation not allowed in current state")
)

// settled are the states in which nothing is in flight.
var settled = []State{StateIdle, StateFileLoaded, StateDimensionsInvalid, StateAnalyzed}

type op string

const (
	opLoadFile       op = "load file"
	opUpdateSettings op = "update settings"
	opAnalyze        op = "analyze"
	opProgress       op = "report progress"
	opComplete       op = "complete analysis"
	opSetDetails     op = "set details"
	opAddToOrder     op = "add to order"
	opRemoveFile     op = "remove file"
	opCoupon         op = "change coupon"
	opCheckout       op = "checkout"
)

var allowed = map[op][]State{
	opLoadFile:       settled,
	opUpdateSettings: settled,
	opAnalyze:        {StateFileLoaded},
	opProgress:       {StateAnalyzing},
	opComplete:       {StateAnalyzing},
	opSetDetails:     {StateAnalyzed},
	opAddToOrder:     {StateAnalyzed},
	opRemoveFile:     settled,
	opCoupon:         settled,
	opCheckout:       {StateIdle, StateFileLoaded, StateAnalyzed},
}

type TransitionError struct {
	Op    string
	State State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Coupons is the part of the coupon ledger the workflow needs.
type Coupons interface {
	Eligible(ctx context.Context, phone string) []models.Coupon
	Redeem(ctx context.Context, phone, code string) (*models.Coupon, error)
}

type Deps struct {
	Assembler *order.Assembler
	Coupons   Coupons
	Logger    *zap.Logger
}

type loadedFile struct {
	name       string
	data       []byte
	dimensions models.MeshDimensions
	violations []dimension.Violation
}

// Workflow is not safe for concurrent use; the session actor serialises calls.
type Workflow struct {
	state    State
	file     *loadedFile
	settings models.PrintSettings
	progress int
	analysis *slicer.Result
	order    *order.Order

	assembler *order.Assembler
	coupons   Coupons
	logger    *zap.Logger
}

// New starts a workflow in idle over o, which may already hold saved files.
func New(o *order.Order, deps Deps) *Workflow {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		state:     StateIdle,
		settings:  models.DefaultPrintSettings(),
		order:     o,
		assembler: deps.Assembler,
		coupons:   deps.Coupons,
		logger:    logger.Named("workflow").With(zap.String("session", o.SessionID)),
	}
}

func (w *Workflow) State() State {
	return w.state
}

func (w *Workflow) Order() *order.Order {
	return w.order
}

func (w *Workflow) Settings() models.PrintSettings {
	return w.settings
}

func (w *Workflow) guard(o op) error {
	if !slices.Contains(allowed[o], w.state) {
		return &TransitionError{Op: string(o), State: w.state}
	}
	return nil
}

func (w *Workflow) transition(to State) {
	if w.state != to {
		w.logger.Debug("State change", zap.String("from", string(w.state)), zap.String("to", string(to)))
	}
	w.state = to
}

// LoadFile replaces the file being edited. It measures the mesh and returns a
// *dimension.ExceededError when it does not fit; the file stays loaded so the customer can see
// which axes are too large. Any applied coupon is cleared.
func (w *Workflow) LoadFile(name string, data []byte) error {
	if err := w.guard(opLoadFile); err != nil {
		return err
	}
	if !strings.EqualFold(filepath.Ext(name), ".stl") {
		return fmt.Errorf("%w: %s", ErrInvalidFile, name)
	}
	dims, err := dimension.FromSTL(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	w.file = &loadedFile{
		name:       filepath.Base(name),
		data:       data,
		dimensions: dims,
		violations: dimension.Exceeded(&dims),
	}
	w.analysis = nil
	w.progress = 0
	w.order.Current = nil
	w.order.RemoveCoupon()

	w.logger.Info("File loaded",
		zap.String("name", w.file.name),
		zap.Int("bytes", len(data)),
		zap.Float64("width", dims.Width),
		zap.Float64("height", dims.Height),
		zap.Float64("depth", dims.Depth))

	if err := dimension.Check(&dims); err != nil {
		w.transition(StateDimensionsInvalid)
		return err
	}
	w.transition(StateFileLoaded)
	return nil
}

// UpdateSettings invalidates any earlier analysis. The material colour always follows the
// material.
func (w *Workflow) UpdateSettings(s models.PrintSettings) error {
	if err := w.guard(opUpdateSettings); err != nil {
		return err
	}
	s.SetMaterial(s.MaterialType)
	if err := s.Validate(); err != nil {
		return err
	}
	w.settings = s
	if w.state == StateAnalyzed {
		w.analysis = nil
		w.order.Current = nil
		w.transition(StateFileLoaded)
	}
	return nil
}

// Job is the input of one analysis.
type Job struct {
	File     []byte
	Settings models.PrintSettings
}

// BeginAnalysis moves to analyzing and returns what to slice.
func (w *Workflow) BeginAnalysis() (Job, error) {
	if err := w.guard(opAnalyze); err != nil {
		return Job{}, err
	}
	w.progress = 0
	w.transition(StateAnalyzing)
	return Job{File: w.file.data, Settings: w.settings}, nil
}

func (w *Workflow) ReportProgress(percent int) {
	if w.guard(opProgress) != nil {
		return
	}
	if percent > w.progress {
		w.progress = percent
	}
}

// CompleteAnalysis records the slicing outcome. On failure the file stays loaded for a retry.
func (w *Workflow) CompleteAnalysis(res *slicer.Result, err error) error {
	if gerr := w.guard(opComplete); gerr != nil {
		return gerr
	}
	if err == nil && res == nil {
		err = errors.New("no result")
	}
	if err != nil {
		w.transition(StateFileLoaded)
		if !errors.Is(err, slicer.ErrSlicingFailed) {
			err = fmt.Errorf("%w: %v", slicer.ErrSlicingFailed, err)
		}
		w.logger.Warn("Analysis failed", zap.Error(err))
		return err
	}

	w.analysis = res
	w.progress = 100
	w.order.Current = &models.OrderFile{
		Name:         w.file.name,
		Size:         int64(len(w.file.data)),
		Payload:      w.file.data,
		Settings:     w.settings,
		Dimensions:   w.file.dimensions,
		Price:        res.Price,
		PrintDetails: res.Details,
		Quantity:     1,
	}
	w.transition(StateAnalyzed)
	return nil
}

// Analyze runs a whole analysis synchronously.
func (w *Workflow) Analyze(ctx context.Context, orch *slicer.Orchestrator) error {
	job, err := w.BeginAnalysis()
	if err != nil {
		return err
	}
	task := orch.Start(ctx, job.File, job.Settings)
	for p := range task.Progress() {
		w.ReportProgress(p)
	}
	return w.CompleteAnalysis(task.Wait())
}

type Details struct {
	Quantity  int               `json:"quantity"`
	Notes     string            `json:"notes"`
	Placement *models.Placement `json:"placement,omitempty"`
}

// SetDetails sets quantity and notes on the analyzed file. The price total follows the quantity.
func (w *Workflow) SetDetails(d Details) error {
	if err := w.guard(opSetDetails); err != nil {
		return err
	}
	next := *w.order.Current
	next.Quantity = d.Quantity
	next.Notes = d.Notes
	if d.Placement != nil {
		next.Placement = *d.Placement
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*w.order.Current = next
	return nil
}

// AddToOrder stores the analysed file and returns to idle, ready for the next file.
func (w *Workflow) AddToOrder(ctx context.Context) (uint, error) {
	if err := w.guard(opAddToOrder); err != nil {
		return 0, err
	}
	w.transition(StateSavingFile)
	id, err := w.assembler.AddFile(ctx, w.order, w.order.Current)
	if err != nil {
		w.transition(StateAnalyzed)
		return 0, err
	}
	w.clearFile()
	w.transition(StateIdle)
	return id, nil
}

// RemoveFile drops the entry at index of the order lines. Removing the current file, the last
// line, returns to idle.
func (w *Workflow) RemoveFile(ctx context.Context, index int) error {
	if err := w.guard(opRemoveFile); err != nil {
		return err
	}
	removedCurrent, err := w.assembler.RemoveFile(ctx, w.order, index)
	if err != nil {
		return err
	}
	if removedCurrent {
		w.clearFile()
		w.transition(StateIdle)
	}
	return nil
}

func (w *Workflow) EligibleCoupons(ctx context.Context, phone string) []models.Coupon {
	return w.coupons.Eligible(ctx, phone)
}

// ApplyCoupon fills the single coupon slot, replacing any coupon already applied.
func (w *Workflow) ApplyCoupon(ctx context.Context, phone, code string) (*models.Coupon, error) {
	if err := w.guard(opCoupon); err != nil {
		return nil, err
	}
	c, err := w.coupons.Redeem(ctx, phone, code)
	if err != nil {
		return nil, err
	}
	w.order.ApplyCoupon(c)
	return c, nil
}

func (w *Workflow) RemoveCoupon() error {
	if err := w.guard(opCoupon); err != nil {
		return err
	}
	w.order.RemoveCoupon()
	return nil
}

// Checkout assembles the order. On failure the workflow returns to where it was and the order is
// untouched apart from the current file's durable id.
func (w *Workflow) Checkout(ctx context.Context) (*models.CheckoutPayload, error) {
	if err := w.guard(opCheckout); err != nil {
		return nil, err
	}
	prev := w.state
	w.transition(StateCheckingOut)

	payload, err := w.assembler.AssembleCheckout(ctx, w.order)
	if err != nil {
		w.transition(prev)
		return nil, err
	}
	w.clearFile()
	w.transition(StateIdle)
	return payload, nil
}

func (w *Workflow) clearFile() {
	w.file = nil
	w.analysis = nil
	w.progress = 0
}

// Snapshot is a read-only view for rendering.
type Snapshot struct {
	State          State                  `json:"state"`
	FileName       string                 `json:"fileName,omitempty"`
	Dimensions     *models.MeshDimensions `json:"dimensions,omitempty"`
	Violations     []dimension.Violation  `json:"violations,omitempty"`
	Settings       models.PrintSettings   `json:"settings"`
	Progress       int                    `json:"progress"`
	Analysis       *slicer.Result         `json:"analysis,omitempty"`
	Lines          []order.Line           `json:"lines"`
	Coupon         *models.CouponRef      `json:"coupon"`
	Subtotal       int64                  `json:"subtotal"`
	DiscountAmount int64                  `json:"discountAmount"`
	Total          int64                  `json:"total"`
	CanAnalyze     bool                   `json:"canAnalyze"`
	CanCheckout    bool                   `json:"canCheckout"`
}

// Snapshot is the read-only view rendered by the gateway.
func (w *Workflow) Snapshot() Snapshot {
	s := Snapshot{
		State:          w.state,
		Settings:       w.settings,
		Progress:       w.progress,
		Analysis:       w.analysis,
		Lines:          w.order.Lines(),
		Subtotal:       w.order.Subtotal(),
		DiscountAmount: w.order.DiscountAmount(),
		Total:          w.order.FinalTotal(),
		CanAnalyze:     w.guard(opAnalyze) == nil,
		CanCheckout:    w.guard(opCheckout) == nil && !w.order.Empty(),
	}
	if w.file != nil {
		dims := w.file.dimensions
		s.FileName = w.file.name
		s.Dimensions = &dims
		s.Violations = w.file.violations
	}
	if w.order.Coupon != nil {
		s.Coupon = w.order.Coupon.Ref()
	}
	return s
}
