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

package topology

import (
	"context"
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas"
)

// Reconciler converges topologies. It is safe for concurrent use on
// different topologies.
type Reconciler struct {
	driver *lbaas.Driver
}

// NewReconciler returns a Reconciler using driver.
func NewReconciler(driver *lbaas.Driver) *Reconciler {
	return &Reconciler{driver: driver}
}

// Ensure converges the load balancer, then every listener with its pool and
// members, then mirrors the security groups of the pods onto the listeners.
// A failing listener does not stop the others; their errors are aggregated.
// The returned state holds what was converged, even on error.
func (r *Reconciler) Ensure(ctx context.Context, topo *Topology) (*lbaas.State, error) {
	klog.V(2).InfoS("Ensuring topology", "service", klog.KRef(topo.Namespace, topo.Service), "listeners", len(topo.Listeners))

	lb, err := r.driver.EnsureLoadBalancer(ctx, topo.LoadBalancer())
	if err != nil {
		return nil, err
	}
	state := &lbaas.State{LoadBalancer: lb}

	// port -> protocol of the listeners in place
	ports := map[int]string{}
	doubleListeners := r.driver.Features().DoubleListeners

	var errs []error
	for _, l := range topo.Listeners {
		if protocol, ok := ports[l.Port]; ok && protocol != l.Protocol && !doubleListeners {
			klog.Warningf("Skipping listener %s:%d of %s, Octavia does not support several protocols on a port", l.Protocol, l.Port, lb)
			continue
		}
		if err := r.ensureListener(ctx, state, l); err != nil {
			errs = append(errs, fmt.Errorf("listener %s:%d: %w", l.Protocol, l.Port, err))
			continue
		}
		ports[l.Port] = l.Protocol
	}

	if len(topo.SecurityGroups) > 0 && len(state.Listeners) > 0 {
		if err := r.driver.UpdateLBaaSSG(ctx, topo.ServiceObject(), state, topo.SecurityGroups); err != nil {
			errs = append(errs, err)
		}
	}
	return state, utilerrors.NewAggregate(errs)
}

func (r *Reconciler) ensureListener(ctx context.Context, state *lbaas.State, l Listener) error {
	lb := state.LoadBalancer
	listener, err := r.driver.EnsureListener(ctx, lb, l.Protocol, l.Port)
	if err != nil {
		return err
	}
	if listener == nil {
		// Rejected by the provider, the siblings proceed.
		return nil
	}
	state.Listeners = append(state.Listeners, *listener)

	pool, err := r.driver.EnsurePool(ctx, lb, listener)
	if err != nil {
		return err
	}
	state.Pools = append(state.Pools, *pool)

	for _, m := range l.Members {
		// The security groups are applied once all members are in.
		member, err := r.driver.EnsureMember(ctx, lb, pool, m.SubnetID, m.IP, m.Port, m.Namespace, m.Name, 0)
		if err != nil {
			return fmt.Errorf("member %s/%s: %w", m.Namespace, m.Name, err)
		}
		state.Members = append(state.Members, *member)
	}
	return nil
}

// Release deletes the load balancer of topo with everything it holds. A
// load balancer that does not exist is not an error.
func (r *Reconciler) Release(ctx context.Context, topo *Topology) error {
	lb, err := r.driver.FindLoadBalancer(ctx, topo.LoadBalancer())
	if err != nil {
		return err
	}
	if lb == nil {
		klog.V(2).InfoS("Nothing to release", "service", klog.KRef(topo.Namespace, topo.Service))
		return nil
	}
	return r.driver.ReleaseLoadBalancer(ctx, lb)
}
