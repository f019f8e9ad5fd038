// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ajroetker/go-nonbonded/internal/tracestore"
	"github.com/ajroetker/go-nonbonded/nb/engine"
)

type runOptions struct {
	*rootOptions
	steps int
	trace string
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Step a system and report neighbor list statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSystem(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.steps, "steps", 10, "number of steps")
	cmd.Flags().StringVar(&opts.trace, "trace", "", "record steps in this SQLite database")
	return cmd
}

// shardStats sums the neighbor statistics of every shard.
func shardStats(eng *engine.Sharded) tracestore.Step {
	var st tracestore.Step
	for _, e := range eng.Shards() {
		s := e.Stats()
		st.Tiles += s.Neighbor.Tiles
		st.Pairs += s.Neighbor.Pairs
		st.Retries += s.Neighbor.Retries
	}
	st.Reason = eng.Shards()[0].Stats().LastReason.String()
	st.Rebuilt = eng.RebuildOccurred()
	return st
}

func runSystem(ctx context.Context, stdout, stderr io.Writer, opts *runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sys, err := loadSystem(opts.config)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewPCG(sys.Seed, sys.Seed^0x9e3779b97f4a7c15))
	pos := sys.positions(rng)
	eng, err := sys.build(rng, opts.logger(stderr))
	if err != nil {
		return err
	}
	defer eng.Close()

	var (
		store *tracestore.Store
		run   tracestore.Run
	)
	if opts.trace != "" {
		if store, err = tracestore.Open(opts.trace); err != nil {
			return err
		}
		defer store.Close()
		if run, err = store.BeginRun(ctx, sys.Name, sys.Particles, sys.Groups); err != nil {
			return err
		}
	}

	p := message.NewPrinter(language.English)
	p.Fprintf(stdout, "%s: %d particles, %d shard(s), groups %#x\n", sys.Name, sys.Particles, sys.Shards, sys.Groups)

	rebuilds, retries := 0, 0
	box := sys.box()
	for step := range opts.steps {
		if step > 0 {
			for i := range pos {
				pos[i].X += (rng.Float64()*2 - 1) * sys.Displacement
				pos[i].Y += (rng.Float64()*2 - 1) * sys.Displacement
				pos[i].Z += (rng.Float64()*2 - 1) * sys.Displacement
			}
		}
		if err := eng.PrepareInteractions(sys.Groups, pos, box); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		res, err := eng.ComputeInteractions(sys.Groups, true, true)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}

		st := shardStats(eng)
		st.Step, st.Energy = step, res.Energy
		if st.Rebuilt {
			rebuilds++
			retries += st.Retries
		}
		p.Fprintf(stdout, "step %4d  %-10s  tiles %8d  pairs %8d  energy %14.6f\n",
			step, st.Reason, st.Tiles, st.Pairs, st.Energy)
		for _, name := range sys.Derivatives {
			p.Fprintf(stdout, "           dE/d%s %14.6f\n", name, res.Derivatives[name])
		}
		if store != nil {
			if err := store.RecordStep(ctx, run.ID, st); err != nil {
				return err
			}
		}
	}
	p.Fprintf(stdout, "%d rebuilds in %d steps, %d buffer retries\n", rebuilds, opts.steps, retries)
	if store != nil {
		p.Fprintf(stdout, "trace %s written to %s\n", run.ID, opts.trace)
	}
	return nil
}
