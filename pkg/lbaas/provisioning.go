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

package lbaas

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/timer"
	cpoerrors "github.com/openstack/kuryr-lbaas/pkg/util/errors"
)

const (
	// fastInterval is the first poll interval for most operations.
	fastInterval = 1 * time.Second
	// slowInterval is used for operations known to take long, like
	// creating a load balancer or a listener.
	slowInterval = 3 * time.Second
)

func (d *Driver) newTimer(timeout, interval time.Duration) *timer.Timer {
	return timer.New(d.clock, timeout, interval, d.jitter)
}

// activationTimeout is the budget of a whole ensure or release operation.
func (d *Driver) activationTimeout() time.Duration {
	return d.opts.ActivationTimeout.Duration
}

// waitForProvisioning polls lb until it is ACTIVE. A load balancer in ERROR
// is released when cascadeOnError is set, and ErrResourceNotReady returned.
// Errors of the status lookup, including not found, are returned as is.
func (d *Driver) waitForProvisioning(ctx context.Context, lb *model.LoadBalancer, timeout, interval time.Duration, cascadeOnError bool) error {
	for t := d.newTimer(timeout, interval); !t.Expired(); t.Wait() {
		if err := ctx.Err(); err != nil {
			return err
		}

		current, err := d.lb.GetLoadBalancer(ctx, lb.ID)
		if err != nil {
			return fmt.Errorf("failed to get provisioning status of %s: %w", lb, err)
		}

		switch current.ProvisioningStatus {
		case model.ProvisioningStatusActive:
			klog.V(4).Infof("Provisioning complete for %s", lb)
			return nil
		case model.ProvisioningStatusError:
			if cascadeOnError {
				klog.Warningf("Releasing load balancer %s with error status", lb)
				if err := d.ReleaseLoadBalancer(ctx, lb); err != nil {
					klog.Errorf("Failed to release load balancer %s in error status: %v", lb, err)
				}
			}
			return cpoerrors.NewResourceNotReady(fmt.Sprintf("%s is in %s status", lb, current.ProvisioningStatus))
		default:
			klog.V(5).Infof("Provisioning status %s for %s, %s remaining until timeout", current.ProvisioningStatus, lb, t.Remaining())
		}
	}

	return cpoerrors.NewResourceNotReady(lb.String())
}

// waitForDeletion polls until lb is gone.
func (d *Driver) waitForDeletion(ctx context.Context, lb *model.LoadBalancer, timeout time.Duration) error {
	for t := d.newTimer(timeout, fastInterval); !t.Expired(); t.Wait() {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := d.lb.GetLoadBalancer(ctx, lb.ID)
		if cpoerrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			klog.V(4).Infof("Failed to get load balancer %s while waiting for its deletion: %v", lb, err)
		}
	}

	return cpoerrors.NewResourceNotReady(fmt.Sprintf("deletion of %s", lb))
}
