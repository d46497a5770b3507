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
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/topology"
)

var (
	ensureFiles  []string
	releaseFiles []string
)

var ensureCmd = &cobra.Command{
	Use:   "ensure -f TOPOLOGY [-f TOPOLOGY...]",
	Short: "Create or update the load balancers described by the topology files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWithReconciler(cmd, ensureFiles, func(ctx context.Context, r *topology.Reconciler, topo *topology.Topology) error {
			state, err := r.Ensure(ctx, topo)
			if state != nil {
				printState(cmd.OutOrStdout(), topo, state.LoadBalancer.ID, len(state.Listeners), len(state.Members))
			}
			return err
		})
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release -f TOPOLOGY [-f TOPOLOGY...]",
	Short: "Delete the load balancers described by the topology files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWithReconciler(cmd, releaseFiles, func(ctx context.Context, r *topology.Reconciler, topo *topology.Topology) error {
			return r.Release(ctx, topo)
		})
	},
}

func init() {
	ensureCmd.Flags().StringArrayVarP(&ensureFiles, "filename", "f", nil, "Topology file, may be repeated")
	releaseCmd.Flags().StringArrayVarP(&releaseFiles, "filename", "f", nil, "Topology file, may be repeated")
	_ = ensureCmd.MarkFlagRequired("filename")
	_ = releaseCmd.MarkFlagRequired("filename")
}

type topologyFunc func(ctx context.Context, r *topology.Reconciler, topo *topology.Topology) error

func runWithReconciler(cmd *cobra.Command, files []string, fn topologyFunc) error {
	topologies, err := readTopologies(files)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopMetrics := serveMetrics(opts.MetricsAddress)
	defer stopMetrics()

	driver, err := newDriver(ctx)
	if err != nil {
		return err
	}
	r := topology.NewReconciler(driver)

	return forEachTopology(ctx, topologies, opts.Concurrency, func(ctx context.Context, topo *topology.Topology) error {
		return fn(ctx, r, topo)
	})
}

func readTopologies(files []string) ([]*topology.Topology, error) {
	var errs []error
	ret := make([]*topology.Topology, 0, len(files))
	for _, f := range files {
		topo, err := topology.ReadFile(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ret = append(ret, topo)
	}
	return ret, utilerrors.NewAggregate(errs)
}

// forEachTopology runs fn on every topology, at most limit at once. A
// failure does not cancel the others; the errors are aggregated.
func forEachTopology(ctx context.Context, topologies []*topology.Topology, limit int, fn func(context.Context, *topology.Topology) error) error {
	errs := make([]error, len(topologies))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, topo := range topologies {
		g.Go(func() error {
			logger := log.WithFields(log.Fields{
				"request": uuid.New().String(),
				"service": topo.Namespace + "/" + topo.Service,
			})
			logger.Info("Converging topology")
			if err := fn(ctx, topo); err != nil {
				logger.WithFields(log.Fields{"error": err}).Error("Failed to converge topology")
				errs[i] = fmt.Errorf("%s/%s: %w", topo.Namespace, topo.Service, err)
				return nil
			}
			logger.Info("Topology converged")
			return nil
		})
	}
	_ = g.Wait()

	return utilerrors.NewAggregate(errs)
}

func printState(w io.Writer, topo *topology.Topology, lbID string, listeners, members int) {
	fmt.Fprintf(w, "%s/%s\tloadbalancer=%s\tlisteners=%d\tmembers=%d\n", topo.Namespace, topo.Service, lbID, listeners, members)
}
