// Command benor-sim runs a whole consensus cluster in one process over the
// in-memory fabric and reports what every node ended up believing. Handy
// for watching the protocol behave, including the configured-past-the-
// fault-bound mode that cycles rounds forever without deciding.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/usernamenenad/benor-quic/api"
	"github.com/usernamenenad/benor-quic/core"
	"github.com/usernamenenad/benor-quic/impl/benor"
)

func main() {
	var (
		nodeCount  = flag.Uint64("nodes", 4, "total number of nodes (N)")
		faultCount = flag.Uint64("faults", 1, "configured fault bound (F)")
		silent     = flag.Int("silent", 0, "number of nodes that are actually silent")
		ones       = flag.Int("ones", -1, "number of nodes starting with value 1 (default: all)")
		window     = flag.Duration("window", 100*time.Millisecond, "round collection window")
		deadline   = flag.Duration("deadline", 10*time.Second, "how long to let the cluster run")
		statusAddr = flag.String("status", "", "serve node 0 status/metrics on this address, e.g. :8080")
	)
	flag.Parse()

	cfg, err := benor.NewConfig(*nodeCount, *faultCount, func(core.Round) time.Duration {
		return *window
	})
	if err != nil {
		pterm.Error.Printfln("invalid configuration: %v", err)
		os.Exit(1)
	}

	n := int(*nodeCount)
	if *ones < 0 || *ones > n {
		*ones = n
	}
	if *silent < 0 || *silent > n {
		pterm.Error.Printfln("silent nodes must be between 0 and %d", n)
		os.Exit(1)
	}

	logger := slog.New(pterm.NewSlogHandler(&pterm.DefaultLogger))

	pterm.DefaultHeader.Printfln("Ben-Or cluster: N=%d F=%d, %d silent, window %s", n, *faultCount, *silent, *window)
	if cfg.BoundViolated() {
		pterm.Warning.Println("fault bound violated (F > N/2): the cluster will never decide, by design")
	}

	network := benor.NewNetwork(n)
	metrics := benor.NewMetrics(nil, "benor")

	nodes := make([]*benor.BenOr, n)
	for i := range nodes {
		id := core.NodeId(i)
		initial := core.ValueZero
		if i < *ones {
			initial = core.ValueOne
		}
		faulty := i >= n-*silent
		nodes[i] = benor.NewBenOr(id, initial, faulty, cfg, network.Join(id), nil, nil, logger)
		nodes[i].AttachMetrics(metrics)
	}

	if *statusAddr != "" {
		server := api.NewStatusServer(*statusAddr, nodes[0], nil)
		server.StartAsync()
		defer server.Stop()
		pterm.Info.Printfln("node 0 status surface on %s", *statusAddr)
	}

	ctx := context.Background()
	honest := make([]*benor.BenOr, 0, n)
	for _, node := range nodes {
		if node.Status() == benor.HealthFaulty {
			continue
		}
		if err := node.Start(ctx); err != nil {
			pterm.Error.Printfln("start node %s: %v", node.Snapshot().NodeId, err)
			os.Exit(1)
		}
		honest = append(honest, node)
	}

	spinner, _ := pterm.DefaultSpinner.Start("running rounds...")

	allDecided := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, node := range honest {
			wg.Add(1)
			go func(node *benor.BenOr) {
				defer wg.Done()
				<-node.Done()
			}(node)
		}
		wg.Wait()
		close(allDecided)
	}()

	select {
	case <-allDecided:
		spinner.Success("every honest node decided")
	case <-time.After(*deadline):
		spinner.Warning("deadline reached before a cluster-wide decision")
	}

	for _, node := range nodes {
		node.Stop()
	}

	renderSnapshots(nodes)

	if cfg.BoundViolated() {
		pterm.Info.Println("safety held: no node reported a decision")
	}
}

func renderSnapshots(nodes []*benor.BenOr) {
	data := pterm.TableData{{"NODE", "HEALTH", "DECIDED", "VALUE", "ROUND"}}
	for _, node := range nodes {
		snap := node.Snapshot()
		decided := pterm.LightRed("no")
		if snap.Decided {
			decided = pterm.LightGreen("yes")
		}
		data = append(data, []string{
			snap.NodeId.String(),
			node.Status().String(),
			decided,
			snap.Value.String(),
			strconv.FormatUint(snap.Round, 10),
		})
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}
