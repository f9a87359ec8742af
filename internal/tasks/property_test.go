package tasks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/desertthunder/spotlog/internal/shared"
	tu "github.com/desertthunder/spotlog/internal/testing"
)

// TestProperty_NoDuplicateRows replays a random history through several
// overlapping runs and checks every play lands in the log exactly once.
func TestProperty_NoDuplicateRows(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("every play is committed exactly once", prop.ForAll(
		func(offsets []int, runs int) bool {
			seen := make(map[int]bool)
			src := tu.NewFakeSource()
			for _, m := range offsets {
				if seen[m] {
					continue
				}
				seen[m] = true
				src.AddEvents(play(fmt.Sprintf("p%03d", m), base.Add(time.Duration(m)*time.Minute)))
			}

			opts := testOptions()
			opts.PageSize = 7
			user := testUser("prop")
			mem := newMemStores()
			ctx := context.Background()

			for i := 1; i <= runs+1; i++ {
				now := base.Add(time.Duration(i*600/runs) * time.Minute)
				if i > runs {
					now = base.Add(601 * time.Minute)
				}
				res := testEngine(opts, now).SyncUser(ctx, user, src, mem.Stores(), nil)
				if res.Err != nil {
					return false
				}
			}

			counts := trackCounts(mem.log.Rows(user.ID()))
			if len(counts) != len(seen) {
				return false
			}
			for _, n := range counts {
				if n != 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(60, gen.IntRange(1, 600)),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

// TestProperty_WatermarkMonotonic drives runs with a skewed clock and random
// fetch failures and checks the stored watermark never moves backwards.
func TestProperty_WatermarkMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("watermark never decreases", prop.ForAll(
		func(clock []int, failures []bool) bool {
			src := tu.NewFakeSource(playsEvery(20, base.Add(time.Minute), 15*time.Minute)...)
			user := testUser("mono")
			mem := newMemStores()
			ctx := context.Background()

			var last time.Time
			for i, m := range clock {
				if i < len(failures) && failures[i] {
					src.FailPages(fmt.Errorf("%w: revoked", shared.ErrAuthFailure))
				}

				testEngine(testOptions(), base.Add(time.Duration(m)*time.Minute)).SyncUser(ctx, user, src, mem.Stores(), nil)

				state, err := mem.state.Load(ctx, user.ID())
				if err != nil || state.LastSync.Before(last) {
					return false
				}
				last = state.LastSync
			}
			return true
		},
		gen.SliceOfN(8, gen.IntRange(-120, 400)),
		gen.SliceOfN(8, gen.Bool()),
	))

	properties.TestingRun(t)
}
