// Package ordertest provides in-memory order stores for tests.
package ordertest

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"github.com/example/printshop/pkg/models"
	"github.com/example/printshop/pkg/order"
)

// DurableStore mimics an auto-increment table. Records are deep-copied in and out.
type DurableStore struct {
	mu      sync.Mutex
	next    uint
	records map[uint]models.OrderFile
	PutErr  error
}

func NewDurableStore() *DurableStore {
	return &DurableStore{records: map[uint]models.OrderFile{}}
}

func (s *DurableStore) Put(_ context.Context, f *models.OrderFile) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return 0, s.PutErr
	}
	s.next++
	rec := *f
	rec.ID = s.next
	rec.Payload = slices.Clone(f.Payload)
	s.records[rec.ID] = rec
	return rec.ID, nil
}

func (s *DurableStore) Get(_ context.Context, id uint) (*models.OrderFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, order.ErrRecordNotFound
	}
	rec.Payload = slices.Clone(rec.Payload)
	return &rec, nil
}

func (s *DurableStore) Delete(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *DurableStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// KV backs both the metadata and the checkout store with JSON values, like Redis would.
type KV struct {
	mu       sync.Mutex
	values   map[string][]byte
	Writes   int
	WriteErr error
	// Corrupt makes reads of checkout payloads return a different total.
	Corrupt bool
}

func NewKV() *KV {
	return &KV{values: map[string][]byte{}}
}

func (kv *KV) set(key string, v interface{}) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.WriteErr != nil {
		return kv.WriteErr
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	kv.values[key] = b
	kv.Writes++
	return nil
}

func (kv *KV) get(key string, dest interface{}) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	b, ok := kv.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (kv *KV) Has(key string) bool {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	_, ok := kv.values[key]
	return ok
}

func (kv *KV) LoadFiles(_ context.Context, sessionID string) ([]models.FileMeta, error) {
	var files []models.FileMeta
	_, err := kv.get("order:files:"+sessionID, &files)
	return files, err
}

func (kv *KV) SaveFiles(_ context.Context, sessionID string, files []models.FileMeta) error {
	return kv.set("order:files:"+sessionID, files)
}

func (kv *KV) ClearFiles(_ context.Context, sessionID string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.values, "order:files:"+sessionID)
	return nil
}

func (kv *KV) PutCheckout(_ context.Context, sessionID string, p *models.CheckoutPayload) error {
	return kv.set("checkout:"+sessionID, p)
}

func (kv *KV) GetCheckout(_ context.Context, sessionID string) (*models.CheckoutPayload, error) {
	var p models.CheckoutPayload
	ok, err := kv.get("checkout:"+sessionID, &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("checkout payload not found")
	}
	if kv.Corrupt {
		p.TotalPrice++
	}
	return &p, nil
}

type AuditEntry struct {
	Action   string
	EntityID string
	Data     map[string]interface{}
}

type Auditor struct {
	mu      sync.Mutex
	Entries []AuditEntry
}

func (a *Auditor) Record(_ context.Context, action, entityID string, data map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Entries = append(a.Entries, AuditEntry{Action: action, EntityID: entityID, Data: data})
}

func (a *Auditor) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.Entries))
	for i, e := range a.Entries {
		out[i] = e.Action
	}
	return out
}
