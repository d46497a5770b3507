/*
Copyright 2014 The Kubernetes Authors.

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

package client

import (
	"fmt"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
)

// NewNetworkV2 creates a ServiceClient that may be used with the neutron v2 API
func NewNetworkV2(provider *gophercloud.ProviderClient, eo *gophercloud.EndpointOpts) (*gophercloud.ServiceClient, error) {
	network, err := openstack.NewNetworkV2(provider, *eo)
	if err != nil {
		return nil, fmt.Errorf("failed to find network v2 %s endpoint for region %s: %v", eo.Availability, eo.Region, err)
	}
	return network, nil
}

// NewLoadBalancerV2 creates a ServiceClient that may be used with the Octavia v2 API
func NewLoadBalancerV2(provider *gophercloud.ProviderClient, eo *gophercloud.EndpointOpts) (*gophercloud.ServiceClient, error) {
	lb, err := openstack.NewLoadBalancerV2(provider, *eo)
	if err != nil {
		return nil, fmt.Errorf("failed to find load-balancer v2 %s endpoint for region %s: %v", eo.Availability, eo.Region, err)
	}
	return lb, nil
}
