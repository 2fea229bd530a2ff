package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/example/printshop/pkg/models"
	"go.uber.org/zap"
)

var (
	ErrRecordNotFound     = errors.New("record not found")
	ErrMissingFile        = errors.New("order file missing from storage")
	ErrEmptyOrder         = errors.New("order has no files")
	ErrStorageWriteFailed = errors.New("storage write failed")
	ErrIndexOutOfRange    = errors.New("order line index out of range")
)

type MissingFileError struct {
	Name   string
	FileID uint
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("%s: %q (id %d) must be added again", ErrMissingFile, e.Name, e.FileID)
}

func (e *MissingFileError) Unwrap() error {
	return ErrMissingFile
}

// DurableStore keeps full order files, payload included. Get returns ErrRecordNotFound for
// unknown ids.
type DurableStore interface {
	Put(ctx context.Context, f *models.OrderFile) (uint, error)
	Get(ctx context.Context, id uint) (*models.OrderFile, error)
	Delete(ctx context.Context, id uint) error
}

// MetadataStore keeps the payload-free file list of a session across restarts.
type MetadataStore interface {
	LoadFiles(ctx context.Context, sessionID string) ([]models.FileMeta, error)
	SaveFiles(ctx context.Context, sessionID string, files []models.FileMeta) error
	ClearFiles(ctx context.Context, sessionID string) error
}

// CheckoutStore holds the payload read by the checkout page.
type CheckoutStore interface {
	PutCheckout(ctx context.Context, sessionID string, p *models.CheckoutPayload) error
	GetCheckout(ctx context.Context, sessionID string) (*models.CheckoutPayload, error)
}

type Auditor interface {
	Record(ctx context.Context, action, entityID string, data map[string]interface{})
}

// Retention decides what happens to stored files when they leave the order.
type Retention string

const (
	// RetentionRetain keeps durable records after removal.
	RetentionRetain Retention = "retain"
	// RetentionPurge deletes the durable record of a file removed from the order.
	RetentionPurge Retention = "purge"
)

// ParseRetention accepts "retain" or "purge"; empty means retain.
func ParseRetention(s string) (Retention, error) {
	switch r := Retention(s); r {
	case "", RetentionRetain:
		return RetentionRetain, nil
	case RetentionPurge:
		return r, nil
	default:
		return "", fmt.Errorf("unknown retention policy %q", s)
	}
}

type Option func(*Assembler)

func WithRetention(r Retention) Option {
	return func(a *Assembler) { a.retention = r }
}

func WithAuditor(au Auditor) Option {
	return func(a *Assembler) { a.audit = au }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) { a.logger = l.Named("order") }
}

func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

type Assembler struct {
	durable   DurableStore
	meta      MetadataStore
	checkout  CheckoutStore
	audit     Auditor
	retention Retention
	logger    *zap.Logger
	now       func() time.Time
}

// NewAssembler writes payloads to durable, the saved list to meta and the final payload to
// checkout. Files are retained on removal unless WithRetention says otherwise.
func NewAssembler(durable DurableStore, meta MetadataStore, checkout CheckoutStore, opts ...Option) *Assembler {
	a := &Assembler{
		durable:   durable,
		meta:      meta,
		checkout:  checkout,
		retention: RetentionRetain,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Restore rebuilds a session's order from the metadata store. Only metadata comes back; the
// payloads stay in the durable store behind their ids.
func (a *Assembler) Restore(ctx context.Context, sessionID string) (*Order, error) {
	o := New(sessionID)
	files, err := a.meta.LoadFiles(ctx, sessionID)
	if err != nil {
		return o, fmt.Errorf("failed to load saved files: %w", err)
	}
	o.Saved = files
	return o, nil
}

func (a *Assembler) persist(ctx context.Context, f *models.OrderFile) error {
	if f.ID != 0 {
		return nil
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = a.now()
	}
	id, err := a.durable.Put(ctx, f)
	if err != nil {
		return fmt.Errorf("%w: durable store: %v", ErrStorageWriteFailed, err)
	}
	f.ID = id
	return nil
}

// AddFile stores f durably (once) and appends its metadata to the order. Adding the current
// file moves it into the saved list.
func (a *Assembler) AddFile(ctx context.Context, o *Order, f *models.OrderFile) (uint, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	if err := a.persist(ctx, f); err != nil {
		return 0, err
	}

	saved := append(slices.Clone(o.Saved), f.Meta())
	if err := a.meta.SaveFiles(ctx, o.SessionID, saved); err != nil {
		return f.ID, fmt.Errorf("%w: metadata store: %v", ErrStorageWriteFailed, err)
	}
	o.Saved = saved
	if o.Current == f {
		o.Current = nil
	}

	a.logger.Info("File added to order",
		zap.String("session", o.SessionID),
		zap.Uint("file_id", f.ID),
		zap.String("name", f.Name),
		zap.Int("quantity", f.Quantity))
	a.record(ctx, "add_file", o.SessionID, map[string]interface{}{
		"file_id": f.ID, "name": f.Name, "final_price": f.Price.FinalPrice, "quantity": f.Quantity,
	})
	return f.ID, nil
}

// RemoveFile drops line index (see Order.Lines). It reports whether the current file was the
// one removed.
func (a *Assembler) RemoveFile(ctx context.Context, o *Order, index int) (bool, error) {
	if index == len(o.Saved) && o.Current != nil {
		o.Current = nil
		return true, nil
	}
	if index < 0 || index >= len(o.Saved) {
		return false, ErrIndexOutOfRange
	}

	removed := o.Saved[index]
	saved := slices.Delete(slices.Clone(o.Saved), index, index+1)
	if err := a.meta.SaveFiles(ctx, o.SessionID, saved); err != nil {
		return false, fmt.Errorf("%w: metadata store: %v", ErrStorageWriteFailed, err)
	}
	o.Saved = saved

	if a.retention == RetentionPurge && removed.FileID != 0 {
		if err := a.durable.Delete(ctx, removed.FileID); err != nil {
			a.logger.Warn("Failed to purge removed file",
				zap.Uint("file_id", removed.FileID), zap.Error(err))
		}
	}

	a.record(ctx, "remove_file", o.SessionID, map[string]interface{}{
		"file_id": removed.FileID, "name": removed.Name, "retention": string(a.retention),
	})
	return false, nil
}

// AssembleCheckout verifies and finalises the order, writes the checkout payload and clears the
// session's saved list. Nothing is written when a saved file no longer resolves.
func (a *Assembler) AssembleCheckout(ctx context.Context, o *Order) (*models.CheckoutPayload, error) {
	ids := make([]uint, 0, len(o.Saved)+1)
	for _, m := range o.Saved {
		// a zero id never made it to the durable store, yet it still counts in the subtotal
		if m.FileID == 0 {
			return nil, &MissingFileError{Name: m.Name}
		}
		if _, err := a.durable.Get(ctx, m.FileID); err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return nil, &MissingFileError{Name: m.Name, FileID: m.FileID}
			}
			return nil, fmt.Errorf("failed to verify %q: %w", m.Name, err)
		}
		ids = append(ids, m.FileID)
	}

	if o.Current != nil {
		if err := o.Current.Validate(); err != nil {
			return nil, err
		}
		if err := a.persist(ctx, o.Current); err != nil {
			return nil, err
		}
		ids = append(ids, o.Current.ID)
	}

	if len(ids) == 0 {
		return nil, ErrEmptyOrder
	}

	subtotal := o.Subtotal()
	discount := Discount(subtotal, o.Coupon)
	payload := &models.CheckoutPayload{
		FileIDs:        ids,
		FileCount:      len(ids),
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TotalPrice:     subtotal - discount,
		OrderTimestamp: a.now().UTC(),
	}
	if o.Coupon != nil {
		payload.AppliedCoupon = o.Coupon.Ref()
	}

	if err := a.checkout.PutCheckout(ctx, o.SessionID, payload); err != nil {
		return nil, fmt.Errorf("%w: checkout store: %v", ErrStorageWriteFailed, err)
	}
	stored, err := a.checkout.GetCheckout(ctx, o.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: checkout readback: %v", ErrStorageWriteFailed, err)
	}
	if !samePayload(stored, payload) {
		return nil, fmt.Errorf("%w: checkout readback mismatch", ErrStorageWriteFailed)
	}

	if err := a.meta.ClearFiles(ctx, o.SessionID); err != nil {
		a.logger.Warn("Failed to clear saved files after checkout",
			zap.String("session", o.SessionID), zap.Error(err))
	}
	o.reset()

	a.logger.Info("Checkout assembled",
		zap.String("session", o.SessionID),
		zap.Int("file_count", payload.FileCount),
		zap.Int64("total", payload.TotalPrice))
	a.record(ctx, "checkout", o.SessionID, map[string]interface{}{
		"file_ids": ids, "subtotal": subtotal, "discount": discount, "total": payload.TotalPrice,
	})
	return payload, nil
}

func samePayload(a, b *models.CheckoutPayload) bool {
	if a == nil || b == nil {
		return false
	}
	return slices.Equal(a.FileIDs, b.FileIDs) &&
		a.FileCount == b.FileCount &&
		a.Subtotal == b.Subtotal &&
		a.DiscountAmount == b.DiscountAmount &&
		a.TotalPrice == b.TotalPrice
}

func (a *Assembler) record(ctx context.Context, action, sessionID string, data map[string]interface{}) {
	if a.audit == nil {
		return
	}
	a.audit.Record(ctx, action, sessionID, data)
}
