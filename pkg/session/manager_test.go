package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/printshop/pkg/models"
	"github.com/example/printshop/pkg/order"
	"github.com/example/printshop/pkg/order/ordertest"
	"github.com/example/printshop/pkg/slicer"
	"github.com/example/printshop/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func cubeSTL(size float32) []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, 80))
	tris := [][9]float32{
		{0, 0, 0, size, 0, 0, 0, size, 0},
		{size, size, size, 0, size, size, size, 0, size},
	}
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(tris)))
	for _, tri := range tris {
		_ = binary.Write(&buf, binary.LittleEndian, [3]float32{})
		_ = binary.Write(&buf, binary.LittleEndian, tri)
		_ = binary.Write(&buf, binary.LittleEndian, uint16(0))
	}
	return buf.Bytes()
}

type slowEngine struct {
	release chan struct{}
}

func (e *slowEngine) Slice(ctx context.Context, _ *slicer.EngineRequest, progress func(int)) (*slicer.EngineResult, error) {
	progress(10)
	select {
	case <-e.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	progress(90)
	return &slicer.EngineResult{Metadata: &slicer.Metadata{FilamentUsage: 10000, PrintTime: 3700}}, nil
}

type noCoupons struct{}

func (noCoupons) Eligible(context.Context, string) []models.Coupon { return []models.Coupon{} }

func (noCoupons) Redeem(context.Context, string, string) (*models.Coupon, error) {
	return &models.Coupon{Name: "FLAT", Discount: 50}, nil
}

func newTestManager(t *testing.T, engine slicer.Engine, kv *ordertest.KV) *Manager {
	return newIdleManager(t, engine, kv, 0)
}

func newIdleManager(t *testing.T, engine slicer.Engine, kv *ordertest.KV, idle time.Duration) *Manager {
	t.Helper()
	asm := order.NewAssembler(ordertest.NewDurableStore(), kv, kv)
	orch := slicer.NewOrchestrator(engine, zap.NewNop())
	cfg := Config{RequestTimeout: 5 * time.Second, IdleTimeout: idle}
	m := NewManager(actor.NewActorSystem(), asm, noCoupons{}, orch, cfg, zap.NewNop())
	t.Cleanup(m.Shutdown)
	return m
}

func waitForState(t *testing.T, m *Manager, id string, want workflow.State) workflow.Snapshot {
	t.Helper()
	var snap workflow.Snapshot
	require.Eventually(t, func() bool {
		r, err := m.Request(id, &GetSnapshot{})
		if err != nil {
			return false
		}
		snap = r.Snapshot
		return snap.State == want
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func TestSessionAnalyzesInBackground(t *testing.T) {
	engine := &slowEngine{release: make(chan struct{})}
	m := newTestManager(t, engine, ordertest.NewKV())

	_, err := m.Request("s1", &LoadFile{Name: "cube.stl", Data: cubeSTL(20)})
	require.NoError(t, err)

	r, err := m.Request("s1", &Analyze{})
	require.NoError(t, err)
	assert.Equal(t, workflow.StateAnalyzing, r.Snapshot.State)

	// the actor keeps answering while the engine runs
	snap := waitForState(t, m, "s1", workflow.StateAnalyzing)
	assert.Equal(t, workflow.StateAnalyzing, snap.State)

	_, err = m.Request("s1", &AddToOrder{})
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)

	close(engine.release)
	snap = waitForState(t, m, "s1", workflow.StateAnalyzed)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, int64(53), snap.Subtotal)

	r, err = m.Request("s1", &AddToOrder{})
	require.NoError(t, err)
	assert.NotZero(t, r.FileID)
	assert.Equal(t, workflow.StateIdle, r.Snapshot.State)
}

func TestSessionsAreIsolatedAndRestored(t *testing.T) {
	kv := ordertest.NewKV()
	engine := &slowEngine{release: make(chan struct{})}
	close(engine.release)
	m := newTestManager(t, engine, kv)

	_, err := m.Request("a", &LoadFile{Name: "cube.stl", Data: cubeSTL(20)})
	require.NoError(t, err)
	_, err = m.Request("a", &Analyze{})
	require.NoError(t, err)
	waitForState(t, m, "a", workflow.StateAnalyzed)
	_, err = m.Request("a", &AddToOrder{})
	require.NoError(t, err)

	r, err := m.Request("b", &GetSnapshot{})
	require.NoError(t, err)
	assert.Empty(t, r.Snapshot.Lines)

	m.Close("a")
	r, err = m.Request("a", &GetSnapshot{})
	require.NoError(t, err)
	require.Len(t, r.Snapshot.Lines, 1)
	assert.Equal(t, "cube.stl", r.Snapshot.Lines[0].Name)
	assert.Equal(t, workflow.StateIdle, r.Snapshot.State)
}

func TestSessionCouponAndCheckout(t *testing.T) {
	engine := &slowEngine{release: make(chan struct{})}
	close(engine.release)
	m := newTestManager(t, engine, ordertest.NewKV())

	_, err := m.Request("c", &LoadFile{Name: "cube.stl", Data: cubeSTL(20)})
	require.NoError(t, err)
	_, err = m.Request("c", &Analyze{})
	require.NoError(t, err)
	waitForState(t, m, "c", workflow.StateAnalyzed)

	r, err := m.Request("c", &ApplyCoupon{Phone: "1", Code: "flat"})
	require.NoError(t, err)
	assert.Equal(t, "FLAT", r.Coupon.Name)
	assert.Equal(t, int64(26), r.Snapshot.DiscountAmount)

	r, err = m.Request("c", &Checkout{})
	require.NoError(t, err)
	require.NotNil(t, r.Checkout)
	assert.Equal(t, int64(27), r.Checkout.TotalPrice)
	assert.Equal(t, 1, r.Checkout.FileCount)
}

func TestIdleSessionsAreEvicted(t *testing.T) {
	engine := &slowEngine{release: make(chan struct{})}
	close(engine.release)
	m := newIdleManager(t, engine, ordertest.NewKV(), 50*time.Millisecond)

	for i := 0; i < 200; i++ {
		_, err := m.Request(fmt.Sprintf("once-%d", i), &GetSnapshot{})
		require.NoError(t, err)
	}
	assert.Positive(t, m.Len())
	require.Eventually(t, func() bool { return m.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestEvictedSessionIsRestored(t *testing.T) {
	engine := &slowEngine{release: make(chan struct{})}
	close(engine.release)
	m := newIdleManager(t, engine, ordertest.NewKV(), 50*time.Millisecond)

	_, err := m.Request("r", &LoadFile{Name: "cube.stl", Data: cubeSTL(20)})
	require.NoError(t, err)
	_, err = m.Request("r", &Analyze{})
	require.NoError(t, err)
	waitForState(t, m, "r", workflow.StateAnalyzed)
	_, err = m.Request("r", &AddToOrder{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.Len() == 0 }, 5*time.Second, 10*time.Millisecond)

	r, err := m.Request("r", &GetSnapshot{})
	require.NoError(t, err)
	require.Len(t, r.Snapshot.Lines, 1)
	assert.Equal(t, "cube.stl", r.Snapshot.Lines[0].Name)
	assert.Equal(t, 1, m.Len())
}

func TestRunningAnalysisKeepsSessionAlive(t *testing.T) {
	engine := &slowEngine{release: make(chan struct{})}
	m := newIdleManager(t, engine, ordertest.NewKV(), 30*time.Millisecond)

	_, err := m.Request("busy", &LoadFile{Name: "cube.stl", Data: cubeSTL(20)})
	require.NoError(t, err)
	_, err = m.Request("busy", &Analyze{})
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, m.Len())

	close(engine.release)
	snap := waitForState(t, m, "busy", workflow.StateAnalyzed)
	assert.Equal(t, int64(53), snap.Subtotal)
}
