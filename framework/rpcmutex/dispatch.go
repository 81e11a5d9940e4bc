package rpcmutex

import (
	"context"
	"sync"

	"github.com/akriventsev/amqpgate/framework/amqptransport"
	"github.com/akriventsev/amqpgate/framework/fsm"
)

// DispositionHook is invoked once a tracked delivery reaches its
// terminal disposition.
type DispositionHook func(evt amqptransport.DispositionEvent)

const (
	dispositionEventTerminal = "terminal"
)

func dispositionStateName(s amqptransport.DispositionState) string {
	return s.String()
}

// DispositionMux gives every tracked delivery its own small state
// machine (unsettled -> one of accepted/rejected/released/modified)
// so that application code reacts to disposition changes the same
// way regardless of which link or class the delivery belongs to. The
// real transport only ever reports one terminal event per delivery
// (see framework/amqptransport), so in practice each machine fires
// exactly one transition; the FSM still generalizes correctly to a
// transport that reported interim states.
type DispositionMux struct {
	mu       sync.Mutex
	machines map[uint64]*fsm.FSM
}

// NewDispositionMux creates an empty mux.
func NewDispositionMux() *DispositionMux {
	return &DispositionMux{machines: make(map[uint64]*fsm.FSM)}
}

// buildDeliveryFSM records the unsettled -> terminal transition for
// one delivery. BaseTransition.Execute rebuilds its own zero-data
// Event internally rather than forwarding what Trigger was called
// with, so the actual DispositionEvent is threaded to hook directly
// by the caller rather than through an action's Event.Data(); the
// machine here exists to give Track an inspectable current state
// (fsm.FSM.CurrentState) that gates whether the hook fires at all.
func buildDeliveryFSM() *fsm.FSM {
	unsettled := fsm.NewBaseState("unsettled")
	accepted := fsm.NewBaseState("accepted")
	rejected := fsm.NewBaseState("rejected")
	released := fsm.NewBaseState("released")
	modified := fsm.NewBaseState("modified")

	machine := fsm.NewFSM(unsettled)
	for _, st := range []fsm.State{accepted, rejected, released, modified} {
		_ = machine.AddState(st)
	}
	for _, to := range []fsm.State{accepted, rejected, released, modified} {
		tb := fsm.NewTransitionBuilder(unsettled, to, dispositionEventTerminal+":"+to.Name())
		_ = machine.AddTransition(tb.Build())
	}

	return machine
}

// Track registers a delivery with the mux: hook fires exactly once,
// when the delivery's terminal disposition arrives.
func (m *DispositionMux) Track(d amqptransport.Delivery, hook DispositionHook) {
	machine := buildDeliveryFSM()

	m.mu.Lock()
	m.machines[d.Handle()] = machine
	m.mu.Unlock()

	d.OnUpdate(func(evt amqptransport.DispositionEvent) {
		// The machine starts in "unsettled" and only ever leaves it
		// once: gate on that instead of discarding Trigger's result,
		// so a transport that (contrary to contract) calls OnUpdate
		// more than once for the same delivery fires hook only for
		// the first, real terminal disposition.
		if machine.CurrentState().Name() != "unsettled" {
			return
		}
		name := dispositionEventTerminal + ":" + dispositionStateName(evt.State)
		if err := machine.Trigger(context.Background(), fsm.NewEvent(name, nil)); err != nil {
			return
		}

		m.mu.Lock()
		delete(m.machines, d.Handle())
		m.mu.Unlock()

		hook(evt)
	})
}
