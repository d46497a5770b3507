/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Print the Octavia API version and the features derived from it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		driver, err := newDriver(ctx)
		if err != nil {
			return err
		}
		f := driver.Features()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "version:          %s\n", f.Version)
		fmt.Fprintf(out, "tags:             %t\n", f.Tags)
		fmt.Fprintf(out, "double listeners: %t\n", f.DoubleListeners)
		fmt.Fprintf(out, "allowed CIDRs:    %t\n", f.ACLs)
		return nil
	},
}
