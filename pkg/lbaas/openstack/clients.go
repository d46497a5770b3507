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

package openstack

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/openstack/kuryr-lbaas/pkg/client"
)

// NewClients authenticates against Keystone and returns the Octavia and
// Neutron clients for the configured region.
func NewClients(ctx context.Context, cfg *client.AuthOpts, userAgent string) (*Octavia, *Neutron, error) {
	provider, err := client.NewOpenStackClient(ctx, cfg, userAgent)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to authenticate against OpenStack: %w", err)
	}

	eo := cfg.EndpointOpts()

	lbClient, err := client.NewLoadBalancerV2(provider, &eo)
	if err != nil {
		return nil, nil, err
	}
	networkClient, err := client.NewNetworkV2(provider, &eo)
	if err != nil {
		return nil, nil, err
	}
	klog.V(4).Infof("Using Octavia endpoint %s and Neutron endpoint %s", lbClient.Endpoint, networkClient.Endpoint)

	return NewOctavia(lbClient, cfg.Region, cfg.EndpointType), NewNeutron(networkClient), nil
}
