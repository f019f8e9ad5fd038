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
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/spf13/cobra"
)

func newSourceCommand(root *rootOptions) *cobra.Command {
	var groups string
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Print the fused kernel source of a set of force groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sys, err := loadSystem(root.config)
			if err != nil {
				return err
			}
			mask := sys.Groups
			if groups != "" {
				v, err := strconv.ParseUint(groups, 0, 32)
				if err != nil {
					return fmt.Errorf("bad --groups %q: %w", groups, err)
				}
				mask = uint32(v)
			}
			eng, err := sys.build(rand.New(rand.NewPCG(sys.Seed, 0)), root.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer eng.Close()
			src, err := eng.Shards()[0].Source(mask)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), src)
			return err
		},
	}
	cmd.Flags().StringVar(&groups, "groups", "", "force group mask, e.g. 0x3 (default: the system's groups)")
	return cmd
}
