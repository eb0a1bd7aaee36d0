/*
 * Copyright 2023 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mulego/mulego/engine"
	"github.com/mulego/mulego/utils/fs"
)

type validateOptions struct {
	// Build creates every flow, resolving components and connectors
	Build bool
}

func newValidateCmd() *cobra.Command {
	var opts validateOptions
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check application definitions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				if err := validateFile(path, opts); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			if failed > 0 {
				return errors.Errorf("%d of %d definitions are invalid", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Build, "build", false, "also build the flows, without starting them")
	return cmd
}

func validateFile(path string, opts validateOptions) error {
	def, err := fs.ReadFile(path)
	if err != nil {
		return err
	}
	if !opts.Build {
		_, err := (&engine.JsonParser{}).DecodeApp(def)
		return err
	}
	ctx, err := engine.NewMuleContext("", def)
	if err != nil {
		return err
	}
	ctx.Dispose()
	return nil
}
