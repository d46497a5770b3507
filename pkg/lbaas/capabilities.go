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
	"slices"

	version "github.com/hashicorp/go-version"
	"k8s.io/klog/v2"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/config"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/openstack"
)

const loadBalancerServiceType = "load-balancer"

var (
	verTags            = version.Must(version.NewVersion("2.5"))
	verDoubleListeners = version.Must(version.NewVersion("2.11"))
	verACL             = version.Must(version.NewVersion("2.12"))
)

// Features are the Octavia capabilities the driver adapts to.
type Features struct {
	Version *version.Version
	// Tags is true when resources can be tagged, otherwise tags go into descriptions.
	Tags bool
	// DoubleListeners is true when two listeners may share a port with different protocols.
	DoubleListeners bool
	// ACLs is true when listeners accept an allowed CIDRs list.
	ACLs bool
}

func (f Features) String() string {
	return fmt.Sprintf("Octavia %s (tags: %t, double listeners: %t, ACLs: %t)", f.Version, f.Tags, f.DoubleListeners, f.ACLs)
}

// FeaturesForVersion derives the features of an Octavia version. The ovn
// provider never supports double listeners.
func FeaturesForVersion(v *version.Version, provider string) Features {
	return Features{
		Version:         v,
		Tags:            v.GreaterThanOrEqual(verTags),
		DoubleListeners: v.GreaterThanOrEqual(verDoubleListeners) && provider != config.ProviderOVN,
		ACLs:            v.GreaterThanOrEqual(verACL),
	}
}

// firstKey returns the lexically smallest key of m.
func firstKey[V any](m map[string]V) (string, bool) {
	if len(m) == 0 {
		return "", false
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys[0], true
}

// MaxVersion returns the highest version advertised for the load-balancer
// service in region. An empty or unknown region falls back to the first one.
func MaxVersion(data model.VersionData, region string) (*version.Version, error) {
	interfaces, ok := data[region]
	if !ok {
		first, found := firstKey(data)
		if !found {
			return nil, fmt.Errorf("version data has no region")
		}
		if region != "" {
			klog.Warningf("Region %s not found in version data, using %s", region, first)
		}
		interfaces = data[first]
	}

	iface, ok := firstKey(interfaces)
	if !ok {
		return nil, fmt.Errorf("version data has no interface")
	}
	services := interfaces[iface]

	ids, ok := services[loadBalancerServiceType]
	if !ok {
		first, found := firstKey(services)
		if !found {
			return nil, fmt.Errorf("version data has no service")
		}
		ids = services[first]
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("version data lists no version")
	}

	var highest *version.Version
	for _, id := range ids {
		v, err := version.NewVersion(id)
		if err != nil {
			return nil, fmt.Errorf("malformed Octavia version %q: %w", id, err)
		}
		if highest == nil || v.GreaterThan(highest) {
			highest = v
		}
	}
	return highest, nil
}

// DetectFeatures queries the Octavia version discovery once and derives the features.
func DetectFeatures(ctx context.Context, client openstack.LoadBalancerInterface, region, provider string) (Features, error) {
	data, err := client.GetVersionData(ctx)
	if err != nil {
		return Features{}, fmt.Errorf("failed to get Octavia API versions: %w", err)
	}
	v, err := MaxVersion(data, region)
	if err != nil {
		return Features{}, err
	}

	f := FeaturesForVersion(v, provider)
	klog.V(2).Infof("Detected %s", f)
	return f, nil
}
