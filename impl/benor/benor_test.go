package benor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/usernamenenad/benor-quic/core"
	"github.com/usernamenenad/benor-quic/impl/benor"
)

var silentLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testWindow(core.Round) time.Duration {
	return 25 * time.Millisecond
}

// buildCluster wires len(initials) nodes over an in-process Network. The
// returned stores let tests observe pruning.
func buildCluster(
	t *testing.T,
	n, f uint64,
	initials []core.Value,
	faulty []bool,
) ([]*benor.BenOr, []*benor.RoundStore) {
	t.Helper()

	cfg, err := benor.NewConfig(n, f, testWindow)
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	network := benor.NewNetwork(len(initials))
	nodes := make([]*benor.BenOr, len(initials))
	stores := make([]*benor.RoundStore, len(initials))
	for i, initial := range initials {
		id := core.NodeId(i)
		stores[i] = benor.NewRoundStore()
		nodes[i] = benor.NewBenOr(id, initial, faulty[i], cfg, network.Join(id), stores[i], nil, silentLogger)
	}
	return nodes, stores
}

func waitDecided(t *testing.T, node *benor.BenOr) {
	t.Helper()
	select {
	case <-node.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("node %s timed out waiting for a decision", node.Snapshot().NodeId)
	}
}

func TestUnanimousClusterDecides(t *testing.T) {
	for _, value := range []core.Value{core.ValueZero, core.ValueOne} {
		t.Run("value "+value.String(), func(t *testing.T) {
			initials := []core.Value{value, value, value, value}
			nodes, _ := buildCluster(t, 4, 1, initials, make([]bool, 4))

			ctx := context.Background()
			for _, node := range nodes {
				if err := node.Start(ctx); err != nil {
					t.Fatalf("start: %v", err)
				}
			}
			defer func() {
				for _, node := range nodes {
					node.Stop()
				}
			}()

			for _, node := range nodes {
				waitDecided(t, node)
				snap := node.Snapshot()
				if !snap.Decided || snap.Value != value {
					t.Errorf("node %s: got (decided=%v, value=%s), want (true, %s)",
						snap.NodeId, snap.Decided, snap.Value, value)
				}
				if snap.Round != 0 {
					t.Errorf("node %s decided in round %d, want 0", snap.NodeId, snap.Round)
				}
			}
		})
	}
}

func TestSplitVoteAgreement(t *testing.T) {
	// Three ones against one zero: the R phase majority forces every
	// proposal to 1, so all nodes decide 1 in round 0.
	initials := []core.Value{core.ValueOne, core.ValueOne, core.ValueOne, core.ValueZero}
	nodes, _ := buildCluster(t, 4, 1, initials, make([]bool, 4))

	ctx := context.Background()
	for _, node := range nodes {
		if err := node.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	defer func() {
		for _, node := range nodes {
			node.Stop()
		}
	}()

	for _, node := range nodes {
		waitDecided(t, node)
		if snap := node.Snapshot(); !snap.Decided || snap.Value != core.ValueOne {
			t.Errorf("node %s: got (decided=%v, value=%s), want (true, 1)",
				snap.NodeId, snap.Decided, snap.Value)
		}
	}
}

func TestSilentPeer(t *testing.T) {
	// N=4, F=1, one peer actually silent: the three honest nodes still
	// reach the N-F threshold and decide their shared value.
	initials := []core.Value{core.ValueOne, core.ValueOne, core.ValueOne, core.ValueOne}
	faulty := []bool{false, false, false, true}
	nodes, _ := buildCluster(t, 4, 1, initials, faulty)

	ctx := context.Background()
	for _, node := range nodes[:3] {
		if err := node.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	defer func() {
		for _, node := range nodes[:3] {
			node.Stop()
		}
	}()

	if err := nodes[3].Start(ctx); !errors.Is(err, benor.ErrUnavailable) {
		t.Errorf("starting the faulty node: got %v, want ErrUnavailable", err)
	}
	if got := nodes[3].Status(); got != benor.HealthFaulty {
		t.Errorf("faulty node status: got %s, want faulty", got)
	}

	for _, node := range nodes[:3] {
		waitDecided(t, node)
		if snap := node.Snapshot(); !snap.Decided || snap.Value != core.ValueOne {
			t.Errorf("node %s: got (decided=%v, value=%s), want (true, 1)",
				snap.NodeId, snap.Decided, snap.Value)
		}
	}

	snap := nodes[3].Snapshot()
	if snap.Decided || snap.Round != 0 || snap.Value != core.ValueUnknown || !snap.Faulty {
		t.Errorf("faulty node snapshot: got %+v, want undecided at round 0 with unknown value", snap)
	}
}

func TestSingleNodeDecidesImmediately(t *testing.T) {
	nodes, _ := buildCluster(t, 1, 0, []core.Value{core.ValueZero}, []bool{false})
	node := nodes[0]

	if err := node.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer node.Stop()

	waitDecided(t, node)
	snap := node.Snapshot()
	if !snap.Decided || snap.Value != core.ValueZero || snap.Round != 0 {
		t.Errorf("got %+v, want decided 0 in round 0", snap)
	}
}

func TestViolatedBoundNeverDecides(t *testing.T) {
	// N=3, F=2 violates F <= N/2: the nodes must keep cycling rounds
	// forever without ever reporting a decision.
	initials := []core.Value{core.ValueOne, core.ValueOne, core.ValueZero}
	nodes, stores := buildCluster(t, 3, 2, initials, make([]bool, 3))

	ctx := context.Background()
	for _, node := range nodes {
		if err := node.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	deadline := time.After(600 * time.Millisecond)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

observe:
	for {
		select {
		case <-deadline:
			break observe
		case <-ticker.C:
			for _, node := range nodes {
				if snap := node.Snapshot(); snap.Decided {
					t.Fatalf("node %s decided under a violated fault bound", snap.NodeId)
				}
			}
		}
	}

	for _, node := range nodes {
		node.Stop()
	}

	for i, node := range nodes {
		snap := node.Snapshot()
		if snap.Decided {
			t.Errorf("node %s decided under a violated fault bound", snap.NodeId)
		}
		if snap.Round == 0 {
			t.Errorf("node %s never advanced past round 0", snap.NodeId)
		}
		// Pruning keeps the current and previous round, plus at most one
		// bucket opened early by a peer already in the next round.
		if got := stores[i].Len(); got > 3 {
			t.Errorf("node %s retains %d round buckets, want at most 3", snap.NodeId, got)
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	initials := []core.Value{core.ValueOne, core.ValueZero, core.ValueOne}
	nodes, _ := buildCluster(t, 3, 2, initials, make([]bool, 3))

	ctx := context.Background()
	for _, node := range nodes {
		if err := node.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	time.Sleep(100 * time.Millisecond)

	node := nodes[0]
	node.Stop()
	first := node.Snapshot()
	node.Stop()
	second := node.Snapshot()

	if first != second {
		t.Errorf("stop is not idempotent: %+v vs %+v", first, second)
	}
	if !first.Stopped {
		t.Error("snapshot does not report the node as stopped")
	}

	// No further round may start after stop.
	time.Sleep(150 * time.Millisecond)
	if later := node.Snapshot(); later.Round != first.Round {
		t.Errorf("round advanced after stop: %d -> %d", first.Round, later.Round)
	}

	if err := node.Start(ctx); !errors.Is(err, benor.ErrUnavailable) {
		t.Errorf("restarting a stopped node: got %v, want ErrUnavailable", err)
	}

	for _, other := range nodes[1:] {
		other.Stop()
	}
}

func TestStartIsIdempotent(t *testing.T) {
	nodes, _ := buildCluster(t, 1, 0, []core.Value{core.ValueOne}, []bool{false})
	node := nodes[0]

	ctx := context.Background()
	if err := node.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := node.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	waitDecided(t, node)
	node.Stop()
}

func TestSubmitMessage(t *testing.T) {
	msg := &benor.Message{Phase: core.PhaseR, From: 1, Round: 0, Value: core.ValueOne}

	t.Run("recorded on a live node", func(t *testing.T) {
		nodes, stores := buildCluster(t, 4, 1, []core.Value{core.ValueOne}, []bool{false})
		if err := nodes[0].SubmitMessage(msg); err != nil {
			t.Fatalf("submit: %v", err)
		}
		got, err := stores[0].Read(0, core.PhaseR)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("got %d messages, want 1", len(got))
		}
	})

	t.Run("rejected on a stopped node", func(t *testing.T) {
		nodes, _ := buildCluster(t, 4, 1, []core.Value{core.ValueOne}, []bool{false})
		nodes[0].Stop()
		if err := nodes[0].SubmitMessage(msg); !errors.Is(err, benor.ErrUnavailable) {
			t.Errorf("got %v, want ErrUnavailable", err)
		}
	})

	t.Run("rejected on a faulty node", func(t *testing.T) {
		nodes, _ := buildCluster(t, 4, 1, []core.Value{core.ValueOne}, []bool{true})
		if err := nodes[0].SubmitMessage(msg); !errors.Is(err, benor.ErrUnavailable) {
			t.Errorf("got %v, want ErrUnavailable", err)
		}
	})
}

func TestMetricsInstrumentation(t *testing.T) {
	initials := []core.Value{core.ValueOne, core.ValueOne, core.ValueZero}
	nodes, _ := buildCluster(t, 3, 2, initials, make([]bool, 3))

	metrics := benor.NewMetrics(prometheus.NewRegistry(), "benor_test")
	for _, node := range nodes {
		node.AttachMetrics(metrics)
	}

	ctx := context.Background()
	for _, node := range nodes {
		if err := node.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	time.Sleep(300 * time.Millisecond)
	for _, node := range nodes {
		node.Stop()
	}

	if got := testutil.ToFloat64(metrics.RoundsAdvanced.WithLabelValues("0")); got == 0 {
		t.Error("rounds counter never moved")
	}
	if got := testutil.ToFloat64(metrics.MessagesRecorded.WithLabelValues("0", "R")); got == 0 {
		t.Error("message counter never moved")
	}
	if got := testutil.ToFloat64(metrics.Decided.WithLabelValues("0")); got != 0 {
		t.Error("decided gauge must stay 0 under a violated fault bound")
	}
}
