package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imag1ne/madsim/sim"
)

// ScenarioConfig parameterizes the demo workload: a ring of nodes, each
// appending to its own write-ahead log and gossiping to its successor while
// the fault profile injects latency and loss, optionally with one node
// crashing and losing power mid-run.
type ScenarioConfig struct {
	Seed     int64
	Nodes    int
	Ops      int
	KillNode bool
	Profile  sim.FaultProfile
}

// ScenarioResult summarizes one run. Digest folds in everything observable
// (file contents, delivery counts, timings), so two runs with the same seed
// must produce the same digest.
type ScenarioResult struct {
	Digest    string
	Elapsed   time.Duration
	Delivered int
	Killed    sim.Addr
}

const (
	gossipRounds = 3
	killAfter    = 3 * time.Millisecond
	settleTime   = 100 * time.Millisecond
)

// RunScenario drives the workload to completion on a fresh runtime.
func RunScenario(cfg ScenarioConfig) (ScenarioResult, error) {
	if cfg.Nodes < 1 {
		return ScenarioResult{}, fmt.Errorf("scenario: need at least one node, got %d", cfg.Nodes)
	}
	if err := cfg.Profile.Validate(); err != nil {
		return ScenarioResult{}, err
	}

	rt := sim.NewRuntimeWithProfile(cfg.Seed, cfg.Profile)
	h := rt.Handle()

	addrs := make([]sim.Addr, cfg.Nodes)
	for i := range addrs {
		addrs[i] = sim.Addr(fmt.Sprintf("10.0.0.%d:1", i+1))
	}

	var res ScenarioResult
	received := make([]int, cfg.Nodes)

	err := rt.BlockOn(func() error {
		listeners := make([]*sim.Task, cfg.Nodes)
		workers := make([]*sim.Task, cfg.Nodes)
		for i, addr := range addrs {
			i, addr := i, addr
			node := h.LocalHandle(addr)

			listeners[i] = node.Spawn(func() error {
				for {
					if _, err := node.Net.Recv(); err != nil {
						return err
					}
					received[i]++
				}
			})

			next := addrs[(i+1)%cfg.Nodes]
			workers[i] = node.Spawn(func() error {
				wal, err := node.FS.Create("wal")
				if err != nil {
					return err
				}
				offset := int64(0)
				for op := 0; op < cfg.Ops; op++ {
					entry := []byte(fmt.Sprintf("%s/op-%03d\n", addr, op))
					if err := wal.WriteAllAt(entry, offset); err != nil {
						return err
					}
					offset += int64(len(entry))
					if op%2 == 1 {
						if err := wal.Sync(); err != nil {
							return err
						}
					}
				}
				for round := 0; round < gossipRounds; round++ {
					node.Net.Send(next, []byte(fmt.Sprintf("gossip/%s/%d", addr, round)))
					h.Time.Sleep(h.Rand.DurationIn(0, time.Millisecond))
				}
				return nil
			})
		}

		if cfg.KillNode {
			h.Time.Sleep(killAfter)
			victim := addrs[h.Rand.Int63n(int64(cfg.Nodes))]
			logrus.Infof("scenario: killing %s at %v", victim, h.Time.Elapsed())
			h.Kill(victim)
			h.FS.PowerFail(victim)
			res.Killed = victim
		}

		for i, w := range workers {
			if err := w.Join(); err != nil && !errors.Is(err, sim.ErrKilled) {
				return fmt.Errorf("worker %s: %w", addrs[i], err)
			}
		}

		// Let in-flight deliveries land, then retire the listeners.
		h.Time.Sleep(settleTime)
		for _, addr := range addrs {
			h.Kill(addr)
		}
		for i, l := range listeners {
			if err := l.Join(); err != nil && !errors.Is(err, sim.ErrKilled) {
				return fmt.Errorf("listener %s: %w", addrs[i], err)
			}
		}

		sum := sha256.New()
		buf := make([]byte, 64*1024)
		for i, addr := range addrs {
			fmt.Fprintf(sum, "node=%s delivered=%d\n", addr, received[i])
			res.Delivered += received[i]
			wal, err := h.FS.Handle(addr).Open("wal")
			if err != nil {
				if errors.Is(err, sim.ErrNotFound) {
					fmt.Fprintf(sum, "wal=missing\n")
					continue
				}
				return err
			}
			n, err := wal.ReadAt(buf, 0)
			if err != nil {
				return err
			}
			fmt.Fprintf(sum, "wal=%q\n", buf[:n])
		}
		fmt.Fprintf(sum, "elapsed=%v\n", h.Time.Elapsed())
		res.Digest = hex.EncodeToString(sum.Sum(nil))
		res.Elapsed = h.Time.Elapsed()
		return nil
	})
	if err != nil {
		return ScenarioResult{}, err
	}
	return res, nil
}
