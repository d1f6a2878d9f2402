// Package benor implements one participant in a randomized binary consensus
// protocol in the style of Ben-Or: round-based proposal broadcast, majority
// and threshold evaluation, randomized tie-breaking, and the decision rule,
// including the required behavior that a node configured past the fault
// bound keeps advancing rounds forever without ever reporting a decision.
package benor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/usernamenenad/benor-quic/core"
)

// ErrUnavailable is returned for commands issued against a node that cannot
// serve them: it is faulty, or it has been stopped.
var ErrUnavailable = errors.New("node unavailable")

// BenOr drives one node through successive consensus rounds:
//
//	BroadcastR -> AwaitR -> BroadcastP -> AwaitP -> Resolve -> (Decided | NextRound)
//
// A single round-loop goroutine runs the phases strictly in order; a second
// goroutine drains the transport subscription into the round store. A faulty
// node never transmits, never advances its round and never decides.
type BenOr struct {
	nodeData Node
	faulty   bool

	state   *State
	config  *Config
	network core.Transport
	store   core.Store
	coin    core.Coin
	metrics *Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup

	doneOnce sync.Once
	doneCh   chan struct{}

	logger *slog.Logger
}

// NewBenOr creates a node with the given initial estimate. A nil store,
// coin or logger falls back to RoundStore, RandCoin and slog.Default. The
// initial value of a faulty node is discarded: it has no settled estimate.
func NewBenOr(
	nodeId core.NodeId,
	initial core.Value,
	faulty bool,
	config *Config,
	network core.Transport,
	store core.Store,
	coin core.Coin,
	logger *slog.Logger,
) *BenOr {
	if store == nil {
		store = NewRoundStore()
	}
	if coin == nil {
		coin = RandCoin{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if faulty {
		initial = core.ValueUnknown
	}

	return &BenOr{
		nodeData: *NewNode(nodeId),
		faulty:   faulty,
		state:    NewState(initial),
		config:   config,
		network:  network,
		store:    store,
		coin:     coin,
		doneCh:   make(chan struct{}),
		logger:   logger,
	}
}

// AttachMetrics wires Prometheus instrumentation. Call before Start.
func (b *BenOr) AttachMetrics(m *Metrics) {
	b.metrics = m
}

// Start begins round execution once the transport readiness gate opens.
// It is idempotent; starting a faulty or stopped node is rejected with
// ErrUnavailable.
func (b *BenOr) Start(ctx context.Context) error {
	if b.faulty {
		return fmt.Errorf("start: %w", ErrUnavailable)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Stopped() {
		return fmt.Errorf("start: %w", ErrUnavailable)
	}
	if b.started {
		return nil
	}
	b.started = true
	b.ctx, b.cancel = context.WithCancel(ctx)

	ch := b.network.Subscribe()
	b.wg.Add(1)
	go b.readLoop(ch)

	b.wg.Add(1)
	go b.run()

	return nil
}

// Stop halts the round driver: no further round starts, and a round already
// in progress halts at its next phase boundary. Idempotent.
func (b *BenOr) Stop() {
	b.mu.Lock()
	if b.state.Stopped() {
		b.mu.Unlock()
		return
	}
	b.state.markStopped()
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

// Status reports the node's health for the thin status surface. Faulty
// nodes always report unhealthy.
func (b *BenOr) Status() Health {
	if b.faulty {
		return HealthFaulty
	}
	return HealthHealthy
}

// SubmitMessage is the boundary-layer inbound path for peer messages.
// Stopped and faulty nodes reject submissions with ErrUnavailable.
func (b *BenOr) SubmitMessage(msg *Message) error {
	if b.faulty || b.state.Stopped() {
		return fmt.Errorf("submit message: %w", ErrUnavailable)
	}
	if err := b.store.Record(msg); err != nil {
		return err
	}
	b.metrics.RecordMessage(b.nodeData.GetNodeId(), msg.Phase)
	return nil
}

// Snapshot returns a read-only copy of the node's consensus state. The
// decided flag is reported through the same fault-bound predicate the
// decision engine uses, so a violated bound can never leak a decision.
func (b *BenOr) Snapshot() Snapshot {
	value, round, decided, stopped := b.state.snapshot()
	if b.config.BoundViolated() {
		decided = false
	}
	return Snapshot{
		NodeId:  b.nodeData.GetNodeId(),
		Value:   value,
		Round:   uint64(round),
		Decided: decided,
		Stopped: stopped,
		Faulty:  b.faulty,
	}
}

// Done is closed once the node has fixed a final value. It never closes
// for faulty nodes or for configurations with a violated fault bound.
func (b *BenOr) Done() <-chan struct{} {
	return b.doneCh
}

func (b *BenOr) readLoop(ch <-chan core.Message) {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case raw := <-ch:
			if raw == nil {
				return
			}
			msg, ok := raw.(*Message)
			if !ok {
				b.logger.Error("received message of unexpected type", "type", fmt.Sprintf("%T", raw))
				continue
			}
			if err := b.store.Record(msg); err != nil {
				b.logger.Warn("dropping inbound message", "id", b.nodeData.GetNodeId(), "error", err)
				continue
			}
			b.metrics.RecordMessage(b.nodeData.GetNodeId(), msg.Phase)
		}
	}
}

func (b *BenOr) run() {
	defer b.wg.Done()

	// Round 0 is gated on every peer being up.
	ready := make(chan struct{})
	go func() {
		b.network.WaitForReady()
		close(ready)
	}()
	select {
	case <-ready:
	case <-b.ctx.Done():
		return
	}

	b.logger.Info(
		"starting rounds",
		"id", b.nodeData.GetNodeId(),
		"n", b.config.N,
		"f", b.config.F,
		"boundViolated", b.config.BoundViolated(),
	)

	for {
		round := b.state.Round()
		if !b.runRound(round) {
			return
		}

		// NextRound: advance and keep only the current and previous round.
		next := b.state.advanceRound()
		b.store.Prune(next)
		b.metrics.RecordRound(b.nodeData.GetNodeId())
	}
}

// runRound executes one full round. It returns false when the loop must
// stop, either because the node decided or because it was told to halt.
func (b *BenOr) runRound(round core.Round) bool {
	id := b.nodeData.GetNodeId()

	// BroadcastR: current estimate to all peers, self-delivered locally.
	rMsg := &Message{Phase: core.PhaseR, From: id, Round: round, Value: b.state.Value()}
	if err := b.store.Record(rMsg); err != nil {
		b.logger.Warn("self-delivery failed", "id", id, "error", err)
	}
	b.broadcast(rMsg)

	// AwaitR
	if !b.await(round) {
		return false
	}

	// BroadcastP: proposal computed over the round's R bucket.
	rMsgs, err := b.store.Read(round, core.PhaseR)
	if err != nil {
		b.logger.Warn("reading R bucket", "id", id, "round", uint64(round), "error", err)
	}
	proposal := ProposeFromR(rMsgs, b.config.N, b.coin)
	pMsg := &Message{Phase: core.PhaseP, From: id, Round: round, Value: proposal}
	if err := b.store.Record(pMsg); err != nil {
		b.logger.Warn("self-delivery failed", "id", id, "error", err)
	}
	b.broadcast(pMsg)

	// AwaitP
	if !b.await(round) {
		return false
	}

	// Resolve
	pMsgs, err := b.store.Read(round, core.PhaseP)
	if err != nil {
		b.logger.Warn("reading P bucket", "id", id, "round", uint64(round), "error", err)
	}
	value, decided := ResolveFromP(pMsgs, b.config, b.state.Value(), b.coin)
	b.state.adopt(value, decided)

	if decided {
		b.logger.Info("decided", "id", id, "round", uint64(round), "value", value.String())
		b.metrics.RecordDecision(id)
		b.doneOnce.Do(func() { close(b.doneCh) })
		return false
	}
	return true
}

// await suspends for the round window, letting peer messages accumulate in
// the store. It returns false when the node was stopped meanwhile.
func (b *BenOr) await(round core.Round) bool {
	t := time.NewTimer(b.config.Window(round))
	defer t.Stop()

	select {
	case <-b.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// broadcast transmits fire-and-forget. Unreachable peers never abort a
// round; whatever the transport reports is contained here.
func (b *BenOr) broadcast(msg *Message) {
	if err := b.network.Broadcast(b.ctx, msg); err != nil {
		b.logger.Debug(
			"broadcast incomplete",
			"id", b.nodeData.GetNodeId(),
			"phase", msg.Phase.String(),
			"round", uint64(msg.Round),
			"error", err,
		)
	}
}
