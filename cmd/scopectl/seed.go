package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"codescope/backend/internal/usage/domain"
	"codescope/backend/internal/usage/repository"
)

var (
	seedUsers  = []string{"alice@example.com", "bob@example.com", "carol@example.com"}
	seedModels = []struct {
		name              string
		inPrice, outPrice float64 // USD per million tokens
	}{
		{"claude-opus-4", 15, 75},
		{"claude-sonnet-4", 3, 15},
		{"claude-haiku-3-5", 0.8, 4},
	}
	seedTools = []string{"Read", "Edit", "Bash", "Grep", "Write"}
)

const seedOrg = "dev-org"

func seedSessionID(i int) string {
	return fmt.Sprintf("seed-%04d", i)
}

func newSeedCmd() *cobra.Command {
	var sessions, days int
	var seed uint64
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert sample usage data for local dashboards",
		Long: "seed writes synthetic sessions with cost, tool and productivity events spread over the last --days days.\n" +
			"It is idempotent: nothing is written when the first sample session already exists.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessions <= 0 || days <= 0 {
				return errors.New("--sessions and --days must be positive")
			}
			store, conn, err := openStore()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx := cmd.Context()
			if _, err := store.GetSession(ctx, seedSessionID(0)); err == nil {
				return render(cmd.OutOrStdout(), map[string]int{"sessions": 0}, "sample data already present; skipping")
			} else if !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			rng := rand.New(rand.NewPCG(seed, seed))
			now := time.Now().UTC()
			for i := range sessions {
				if err := seedSession(ctx, store, rng, i, now.Add(-time.Duration(rng.Int64N(int64(days)*int64(24*time.Hour))))); err != nil {
					return fmt.Errorf("seed session %d: %w", i, err)
				}
			}
			return render(cmd.OutOrStdout(), map[string]int{"sessions": sessions}, fmt.Sprintf("seeded %d sessions", sessions))
		},
	}
	cmd.Flags().IntVar(&sessions, "sessions", 50, "number of sessions to create")
	cmd.Flags().IntVar(&days, "days", 30, "spread sessions over this many past days")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	return cmd
}

func seedSession(ctx context.Context, store *repository.Store, rng *rand.Rand, i int, start time.Time) error {
	id := seedSessionID(i)
	ident := domain.Identity{
		UserID:         fmt.Sprintf("user-%d", i%len(seedUsers)),
		UserEmail:      seedUsers[i%len(seedUsers)],
		OrganizationID: seedOrg,
		Service:        "claude-code",
	}
	if err := store.RecordSession(ctx, domain.SessionEvent{SessionID: id, Identity: ident, Timestamp: start, Commands: 1}); err != nil {
		return err
	}

	at := start
	steps := 3 + rng.IntN(12)
	for range steps {
		at = at.Add(time.Duration(1+rng.IntN(8)) * time.Minute)
		m := seedModels[rng.IntN(len(seedModels))]
		in, out := int64(500+rng.IntN(20000)), int64(100+rng.IntN(4000))
		cost := &domain.CostRecord{
			SessionID:       id,
			Model:           m.name,
			InputTokens:     in,
			OutputTokens:    out,
			CacheReadTokens: int64(rng.IntN(50000)),
			CostUSD:         (float64(in)*m.inPrice + float64(out)*m.outPrice) / 1e6,
			Timestamp:       at,
			Identity:        ident,
		}
		if err := store.RecordCost(ctx, cost); err != nil {
			return err
		}
		calls := int64(1 + rng.IntN(5))
		errs := int64(0)
		if rng.IntN(10) == 0 {
			errs = 1
		}
		tool := &domain.ToolUsageRecord{
			SessionID:    id,
			ToolName:     seedTools[rng.IntN(len(seedTools))],
			Invocations:  calls,
			DurationMS:   int64(50 + rng.IntN(3000)),
			SuccessCount: calls - errs,
			ErrorCount:   errs,
			Timestamp:    at,
			Identity:     ident,
		}
		if err := store.RecordToolUsage(ctx, tool); err != nil {
			return err
		}
	}

	if rng.IntN(2) == 0 {
		ev := &domain.ProductivityEvent{
			SessionID:    id,
			Kind:         domain.KindCommit,
			Count:        1,
			FilesChanged: int64(1 + rng.IntN(6)),
			LinesAdded:   int64(rng.IntN(300)),
			LinesRemoved: int64(rng.IntN(120)),
			Timestamp:    at,
			Identity:     ident,
		}
		if err := store.RecordProductivityEvent(ctx, ev); err != nil {
			return err
		}
	}
	return store.EndSession(ctx, id, at.Add(time.Minute))
}
