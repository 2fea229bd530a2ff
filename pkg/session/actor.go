// Package session hosts one workflow per browser session inside a protoactor actor, so every
// operation of a session runs one at a time.
package session

import (
	"context"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/printshop/pkg/models"
	"github.com/example/printshop/pkg/order"
	"github.com/example/printshop/pkg/slicer"
	"github.com/example/printshop/pkg/workflow"
	"go.uber.org/zap"
)

// Messages understood by the session actor. Every request is answered with a *Reply.
type (
	LoadFile struct {
		Name string
		Data []byte
	}
	UpdateSettings struct {
		Settings models.PrintSettings
	}
	Analyze         struct{}
	SetDetails      struct{ Details workflow.Details }
	AddToOrder      struct{}
	RemoveFile      struct{ Index int }
	EligibleCoupons struct{ Phone string }
	ApplyCoupon     struct{ Phone, Code string }
	RemoveCoupon    struct{}
	Checkout        struct{}
	GetSnapshot     struct{}
)

type Reply struct {
	Snapshot workflow.Snapshot
	FileID   uint
	Coupon   *models.Coupon
	Coupons  []models.Coupon
	Checkout *models.CheckoutPayload
	Err      error
}

// internal messages posted by the analysis goroutine
type (
	analysisProgress struct {
		percent int
	}
	analysisDone struct {
		result *slicer.Result
		err    error
	}
)

type sessionActor struct {
	id           string
	assembler    *order.Assembler
	coupons      workflow.Coupons
	orchestrator *slicer.Orchestrator
	opTimeout    time.Duration
	idleTimeout  time.Duration
	// evict unregisters the actor from its manager before it stops itself.
	evict  func(pid *actor.PID)
	logger *zap.Logger

	wf   *workflow.Workflow
	task *slicer.Task
}

func (a *sessionActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		a.restore()
		ctx.SetReceiveTimeout(a.idleTimeout)

	case *actor.ReceiveTimeout:
		if a.task != nil {
			ctx.SetReceiveTimeout(a.idleTimeout)
			return
		}
		if a.evict != nil {
			a.evict(ctx.Self())
		}
		a.logger.Info("Session idle, stopping", zap.Duration("idle", a.idleTimeout))
		ctx.Stop(ctx.Self())

	case *actor.Stopping:
		if a.task != nil {
			a.task.Cancel()
		}

	case *analysisProgress:
		a.wf.ReportProgress(msg.percent)

	case *analysisDone:
		a.task = nil
		if err := a.wf.CompleteAnalysis(msg.result, msg.err); err != nil {
			a.logger.Warn("Analysis finished with error", zap.Error(err))
		}

	case *Analyze:
		job, err := a.wf.BeginAnalysis()
		if err == nil {
			a.startAnalysis(ctx, job)
		}
		ctx.Respond(a.reply(err))

	default:
		if reply, ok := a.handle(msg); ok {
			ctx.Respond(reply)
		}
	}
}

func (a *sessionActor) handle(msg interface{}) (*Reply, bool) {
	bg, cancel := context.WithTimeout(context.Background(), a.opTimeout)
	defer cancel()

	switch msg := msg.(type) {
	case *LoadFile:
		return a.reply(a.wf.LoadFile(msg.Name, msg.Data)), true
	case *UpdateSettings:
		return a.reply(a.wf.UpdateSettings(msg.Settings)), true
	case *SetDetails:
		return a.reply(a.wf.SetDetails(msg.Details)), true
	case *AddToOrder:
		id, err := a.wf.AddToOrder(bg)
		r := a.reply(err)
		r.FileID = id
		return r, true
	case *RemoveFile:
		return a.reply(a.wf.RemoveFile(bg, msg.Index)), true
	case *EligibleCoupons:
		r := a.reply(nil)
		r.Coupons = a.wf.EligibleCoupons(bg, msg.Phone)
		return r, true
	case *ApplyCoupon:
		c, err := a.wf.ApplyCoupon(bg, msg.Phone, msg.Code)
		r := a.reply(err)
		r.Coupon = c
		return r, true
	case *RemoveCoupon:
		return a.reply(a.wf.RemoveCoupon()), true
	case *Checkout:
		p, err := a.wf.Checkout(bg)
		r := a.reply(err)
		r.Checkout = p
		return r, true
	case *GetSnapshot:
		return a.reply(nil), true
	}
	return nil, false
}

func (a *sessionActor) reply(err error) *Reply {
	return &Reply{Snapshot: a.wf.Snapshot(), Err: err}
}

func (a *sessionActor) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), a.opTimeout)
	defer cancel()

	o, err := a.assembler.Restore(ctx, a.id)
	if err != nil {
		a.logger.Warn("Failed to restore saved files", zap.Error(err))
	}
	a.wf = workflow.New(o, workflow.Deps{
		Assembler: a.assembler,
		Coupons:   a.coupons,
		Logger:    a.logger,
	})
	a.logger.Info("Session started", zap.Int("saved_files", len(o.Saved)))
}

// startAnalysis slices in the background and posts progress back to the actor's mailbox.
func (a *sessionActor) startAnalysis(ctx actor.Context, job workflow.Job) {
	root := ctx.ActorSystem().Root
	self := ctx.Self()
	task := a.orchestrator.Start(context.Background(), job.File, job.Settings)
	a.task = task

	go func() {
		for p := range task.Progress() {
			root.Send(self, &analysisProgress{percent: p})
		}
		res, err := task.Wait()
		root.Send(self, &analysisDone{result: res, err: err})
	}()
}
