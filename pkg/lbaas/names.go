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
	"slices"
	"strings"

	"github.com/openstack/kuryr-lbaas/pkg/util"
)

// Resource names are the natural keys used to find a resource again after a
// conflict, so they must only depend on their inputs.

// LoadBalancerName returns the name of the load balancer of a Service.
func LoadBalancerName(namespace, service string) string {
	return util.Sprintf255("%s/%s", namespace, service)
}

// ListenerName returns the name of a listener. It is also the name of its
// pool and the description of the security group rules opening it.
func ListenerName(lbName, protocol string, port int) string {
	return util.Sprintf255("%s:%s:%d", lbName, protocol, port)
}

// LoadBalancerPoolName returns the name of a pool attached to the load
// balancer without a listener.
func LoadBalancerPoolName(lbName, namespace, service string) string {
	return util.Sprintf255("%s/%s/%s", lbName, namespace, service)
}

// MemberName returns the name of the member for a target on a port.
func MemberName(namespace, name string, port int) string {
	return util.Sprintf255("%s/%s:%d", namespace, name, port)
}

const (
	resourceLoadBalancer = "loadbalancer"
	resourceListener     = "listener"
	resourcePool         = "pool"
	resourceMember       = "member"
)

// addTags applies the configured resource tags. Without tag support they are
// written into the description of load balancers, listeners and pools.
func (d *Driver) addTags(resource string, tags *[]string, description *string) {
	if len(d.opts.ResourceTags) == 0 {
		return
	}
	if d.features.Tags {
		*tags = slices.Clone(d.opts.ResourceTags)
		return
	}
	switch resource {
	case resourceLoadBalancer, resourceListener, resourcePool:
		*description = util.CutString255(strings.Join(d.opts.ResourceTags, ","))
	}
}
