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

	"k8s.io/klog/v2"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/openstack"
	cpoerrors "github.com/openstack/kuryr-lbaas/pkg/util/errors"
)

// getVIPPort returns the port holding the VIP of lb. Zero or several
// matching ports yield ErrNotFound.
func (d *Driver) getVIPPort(ctx context.Context, lb *model.LoadBalancer) (*model.Port, error) {
	ports, err := d.network.ListPorts(ctx, openstack.PortFilter{SubnetID: lb.SubnetID, IPAddress: lb.IP})
	if err != nil {
		klog.Errorf("Failed to list ports with fixed IP %s on subnet %s: %v", lb.IP, lb.SubnetID, err)
		return nil, err
	}
	if len(ports) != 1 {
		return nil, fmt.Errorf("VIP port of %s (%d matches): %w", lb, len(ports), cpoerrors.ErrNotFound)
	}
	return &ports[0], nil
}
