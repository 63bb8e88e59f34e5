package executor

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/leadflow/leadflow/pkg/model"
)

type Registry struct {
	executors map[model.Channel]StepExecutor
	limiter   *rate.Limiter
}

// NewRegistry builds a registry throttled to sendsPerSecond outbound actions.
// A non-positive rate disables throttling.
func NewRegistry(sendsPerSecond float64, burst int) *Registry {
	r := &Registry{executors: make(map[model.Channel]StepExecutor)}
	if sendsPerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(sendsPerSecond), burst)
	}
	return r
}

// NewDefaultRegistry wires the four channel executors. Nil collaborators
// are allowed; each executor reports the missing provider on its own terms.
func NewDefaultRegistry(email EmailSender, calls CallInitiator, sms SMSSender, sendsPerSecond float64, burst int) *Registry {
	r := NewRegistry(sendsPerSecond, burst)
	r.Register(model.ChannelEmail, NewEmailExecutor(email))
	r.Register(model.ChannelCall, NewCallExecutor(calls))
	r.Register(model.ChannelSMS, NewSMSExecutor(sms))
	r.Register(model.ChannelWait, WaitExecutor{})
	return r
}

func (r *Registry) Register(channel model.Channel, executor StepExecutor) {
	r.executors[channel] = executor
}

func (r *Registry) Execute(ctx context.Context, req *Request) (*Result, error) {
	executor, ok := r.executors[req.Step.Channel]
	if !ok {
		return nil, Configuration(req.Step.Channel, fmt.Sprintf("no executor for channel %q", req.Step.Channel), nil)
	}
	if r.limiter != nil && req.Step.Channel != model.ChannelWait {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, Transient(req.Step.Channel, "send throttle", err)
		}
	}
	return executor.Execute(ctx, req)
}
