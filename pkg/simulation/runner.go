package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rmax-ai/acebot/pkg/client"
)

// RunScenario runs s against the daemon c points at until s.Duration
// elapses or ctx is done.
func RunScenario(ctx context.Context, s Scenario, c *client.Client, logger *zap.Logger) (SimulationResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.Seed == 0 {
		s.Seed = time.Now().UnixNano()
	}

	res := SimulationResult{
		ScenarioName: s.Name,
		Duration:     s.Duration,
		UserStats:    make(map[string]*UserStats),
	}

	cat, err := c.Catalog(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	logger.Info("scenario_started",
		zap.String("scenario", s.Name),
		zap.Int64("seed", s.Seed),
		zap.String("catalog", cat.Name))

	ctx, cancel := context.WithTimeout(ctx, s.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for groupIdx, cfg := range s.Users {
		stats := &UserStats{}
		res.UserStats[cfg.Name] = stats
		channel := cfg.Channel
		if channel == "" {
			channel = "sim"
		}
		for i := 0; i < cfg.Count; i++ {
			u := &user{
				id:    fmt.Sprintf("%s-%d", cfg.Name, i),
				cfg:   cfg,
				roles: cat.Views,
				rng:   rand.New(rand.NewSource(s.Seed + int64(groupIdx*1000) + int64(i))),
			}
			u.c = c.As(client.Caller{ID: u.id, Channel: channel})
			u.sent = func() {
				atomic.AddUint64(&res.TotalRequests, 1)
				atomic.AddUint64(&stats.Requests, 1)
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				runUser(ctx, u, &res, stats, logger)
			}()
		}
	}

	wg.Wait()

	evaluateInvariants(&res, s.Invariants)

	res.Success = true
	for _, inv := range res.Invariants {
		if !inv.Passed {
			res.Success = false
			break
		}
	}
	logger.Info("scenario_finished",
		zap.String("scenario", s.Name),
		zap.Uint64("journeys", res.TotalJourneys),
		zap.Uint64("mismatches", res.TotalMismatches),
		zap.Bool("success", res.Success))
	return res, nil
}

func runUser(ctx context.Context, u *user, global *SimulationResult, stats *UserStats, logger *zap.Logger) {
	journey := func() {
		err := u.run(ctx)
		// Journeys cut short by the end of the scenario are not counted.
		if err != nil && ctx.Err() != nil {
			return
		}
		atomic.AddUint64(&global.TotalJourneys, 1)
		atomic.AddUint64(&stats.Journeys, 1)

		var mm *mismatchError
		switch {
		case err == nil:
			atomic.AddUint64(&global.TotalCompleted, 1)
			atomic.AddUint64(&stats.Completed, 1)
		case errors.As(err, &mm):
			atomic.AddUint64(&global.TotalMismatches, 1)
			atomic.AddUint64(&stats.Mismatches, 1)
			logger.Warn("journey_mismatch", zap.String("user", u.id), zap.String("reason", mm.reason))
		default:
			atomic.AddUint64(&global.TotalErrors, 1)
			atomic.AddUint64(&stats.Errors, 1)
			logger.Debug("journey_failed", zap.String("user", u.id), zap.Error(err))
		}
	}

	cfg := u.cfg
	switch cfg.Behavior {
	case BehaviorGreedy:
		for {
			select {
			case <-ctx.Done():
				return
			default:
				journey()
			}
		}
	case BehaviorPoisson:
		lambda := float64(max(cfg.Rate, 1))
		for {
			interval := -math.Log(1-u.rng.Float64()) / lambda
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(interval * float64(time.Second))):
				journey()
			}
		}
	case BehaviorBursty:
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for k := 0; k < cfg.Burst && ctx.Err() == nil; k++ {
					journey()
				}
			}
		}
	case BehaviorPeriodic:
		fallthrough
	default:
		interval := 10 * time.Millisecond
		if cfg.Rate > 0 {
			interval = time.Second / time.Duration(cfg.Rate)
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if cfg.Jitter > 0 {
					time.Sleep(time.Duration(u.rng.Int63n(int64(cfg.Jitter))))
				}
				journey()
			}
		}
	}
}

func evaluateInvariants(res *SimulationResult, invariants []Invariant) {
	for _, inv := range invariants {
		var actual float64
		var passed bool

		// Determine actual value based on scope
		var stats UserStats
		if inv.Scope == "global" || inv.Scope == "" {
			stats = UserStats{
				Journeys:   atomic.LoadUint64(&res.TotalJourneys),
				Completed:  atomic.LoadUint64(&res.TotalCompleted),
				Mismatches: atomic.LoadUint64(&res.TotalMismatches),
				Errors:     atomic.LoadUint64(&res.TotalErrors),
			}
		} else {
			s, ok := res.UserStats[inv.Scope]
			if !ok {
				res.Invariants = append(res.Invariants, InvariantResult{
					Metric: inv.Metric, Scope: inv.Scope, Expected: fmt.Sprintf("%s %.2f", inv.Condition, inv.Value), Actual: "N/A", Passed: false,
				})
				continue
			}
			stats = UserStats{
				Journeys:   atomic.LoadUint64(&s.Journeys),
				Completed:  atomic.LoadUint64(&s.Completed),
				Mismatches: atomic.LoadUint64(&s.Mismatches),
				Errors:     atomic.LoadUint64(&s.Errors),
			}
		}

		if stats.Journeys > 0 {
			switch inv.Metric {
			case "completion_rate":
				actual = float64(stats.Completed) / float64(stats.Journeys)
			case "mismatch_rate":
				actual = float64(stats.Mismatches) / float64(stats.Journeys)
			case "error_rate":
				actual = float64(stats.Errors) / float64(stats.Journeys)
			}
		}

		switch inv.Condition {
		case ">":
			passed = actual > inv.Value
		case ">=":
			passed = actual >= inv.Value
		case "<":
			passed = actual < inv.Value
		case "<=":
			passed = actual <= inv.Value
		case "==":
			passed = math.Abs(actual-inv.Value) < 0.0001
		}

		res.Invariants = append(res.Invariants, InvariantResult{
			Metric:   inv.Metric,
			Scope:    inv.Scope,
			Expected: fmt.Sprintf("%s %.2f", inv.Condition, inv.Value),
			Actual:   fmt.Sprintf("%.4f", actual),
			Passed:   passed,
		})
	}
}
