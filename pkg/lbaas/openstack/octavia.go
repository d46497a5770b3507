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

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/loadbalancer/v2/apiversions"
	"github.com/gophercloud/gophercloud/v2/openstack/loadbalancer/v2/listeners"
	"github.com/gophercloud/gophercloud/v2/openstack/loadbalancer/v2/loadbalancers"
	"github.com/gophercloud/gophercloud/v2/openstack/loadbalancer/v2/pools"
	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
	"github.com/openstack/kuryr-lbaas/pkg/metrics"
)

const (
	loadBalancerServiceType = "load-balancer"
	defaultInterface        = "public"
)

// Octavia implements LoadBalancerInterface with gophercloud.
type Octavia struct {
	client *gophercloud.ServiceClient
	region string
	iface  string
}

var _ LoadBalancerInterface = &Octavia{}

// NewOctavia wraps an Octavia service client. region and availability only
// label the version document returned by GetVersionData.
func NewOctavia(client *gophercloud.ServiceClient, region string, availability gophercloud.Availability) *Octavia {
	iface := string(availability)
	if iface == "" {
		iface = defaultInterface
	}
	return &Octavia{client: client, region: region, iface: iface}
}

// GetVersionData lists the versions advertised by the Octavia endpoint.
func (o *Octavia) GetVersionData(ctx context.Context) (model.VersionData, error) {
	mc := metrics.NewMetricContext("version", "list")
	allPages, err := apiversions.List(o.client).AllPages(ctx)
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	versions, err := apiversions.ExtractAPIVersions(allPages)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("API versions for Octavia not found")
	}
	klog.V(4).Infof("Found Octavia API versions: %v", versions)

	ids := make([]string, 0, len(versions))
	for _, v := range versions {
		ids = append(ids, v.ID)
	}
	return model.VersionData{
		o.region: {
			o.iface: {
				loadBalancerServiceType: ids,
			},
		},
	}, nil
}

func loadBalancerFromOctavia(lb *loadbalancers.LoadBalancer) *model.LoadBalancer {
	return &model.LoadBalancer{
		ID:                 lb.ID,
		Name:               lb.Name,
		ProjectID:          lb.ProjectID,
		SubnetID:           lb.VipSubnetID,
		IP:                 lb.VipAddress,
		PortID:             lb.VipPortID,
		Provider:           lb.Provider,
		Description:        lb.Description,
		Tags:               lb.Tags,
		ProvisioningStatus: lb.ProvisioningStatus,
	}
}

func (o *Octavia) CreateLoadBalancer(ctx context.Context, lb *model.LoadBalancer) (*model.LoadBalancer, error) {
	opts := loadbalancers.CreateOpts{
		Name:        lb.Name,
		Description: lb.Description,
		ProjectID:   lb.ProjectID,
		VipAddress:  lb.IP,
		VipSubnetID: lb.SubnetID,
		Provider:    lb.Provider,
		Tags:        lb.Tags,
	}

	mc := metrics.NewMetricContext("loadbalancer", "create")
	created, err := loadbalancers.Create(ctx, o.client, opts).Extract()
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	return loadBalancerFromOctavia(created), nil
}

func (o *Octavia) GetLoadBalancer(ctx context.Context, id string) (*model.LoadBalancer, error) {
	mc := metrics.NewMetricContext("loadbalancer", "get")
	lb, err := loadbalancers.Get(ctx, o.client, id).Extract()
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	return loadBalancerFromOctavia(lb), nil
}

func (o *Octavia) ListLoadBalancers(ctx context.Context, filter LoadBalancerFilter) ([]model.LoadBalancer, error) {
	opts := loadbalancers.ListOpts{
		Name:        filter.Name,
		ProjectID:   filter.ProjectID,
		VipAddress:  filter.VIPAddress,
		VipSubnetID: filter.VIPSubnetID,
	}

	mc := metrics.NewMetricContext("loadbalancer", "list")
	allPages, err := loadbalancers.List(o.client, opts).AllPages(ctx)
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	lbs, err := loadbalancers.ExtractLoadBalancers(allPages)
	if err != nil {
		return nil, err
	}

	ret := make([]model.LoadBalancer, 0, len(lbs))
	for i := range lbs {
		ret = append(ret, *loadBalancerFromOctavia(&lbs[i]))
	}
	return ret, nil
}

func (o *Octavia) DeleteLoadBalancer(ctx context.Context, id string, cascade bool) error {
	mc := metrics.NewMetricContext("loadbalancer", "delete")
	err := loadbalancers.Delete(ctx, o.client, id, loadbalancers.DeleteOpts{Cascade: cascade}).ExtractErr()
	return mc.ObserveRequest(err)
}

func listenerFromOctavia(l *listeners.Listener) *model.Listener {
	ret := &model.Listener{
		ID:          l.ID,
		Name:        l.Name,
		ProjectID:   l.ProjectID,
		Protocol:    l.Protocol,
		Port:        l.ProtocolPort,
		Description: l.Description,
		Tags:        l.Tags,
	}
	if len(l.Loadbalancers) > 0 {
		ret.LoadBalancerID = l.Loadbalancers[0].ID
	}
	return ret
}

func (o *Octavia) CreateListener(ctx context.Context, listener *model.Listener) (*model.Listener, error) {
	opts := listeners.CreateOpts{
		Name:           listener.Name,
		Description:    listener.Description,
		ProjectID:      listener.ProjectID,
		LoadbalancerID: listener.LoadBalancerID,
		Protocol:       listeners.Protocol(listener.Protocol),
		ProtocolPort:   listener.Port,
		Tags:           listener.Tags,
	}

	mc := metrics.NewMetricContext("loadbalancer_listener", "create")
	created, err := listeners.Create(ctx, o.client, opts).Extract()
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	ret := listenerFromOctavia(created)
	if ret.LoadBalancerID == "" {
		ret.LoadBalancerID = listener.LoadBalancerID
	}
	return ret, nil
}

func (o *Octavia) ListListeners(ctx context.Context, filter ListenerFilter) ([]model.Listener, error) {
	opts := listeners.ListOpts{
		Name:           filter.Name,
		ProjectID:      filter.ProjectID,
		LoadbalancerID: filter.LoadBalancerID,
		Protocol:       filter.Protocol,
		ProtocolPort:   filter.Port,
	}

	mc := metrics.NewMetricContext("loadbalancer_listener", "list")
	allPages, err := listeners.List(o.client, opts).AllPages(ctx)
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	ls, err := listeners.ExtractListeners(allPages)
	if err != nil {
		return nil, err
	}

	ret := make([]model.Listener, 0, len(ls))
	for i := range ls {
		l := listenerFromOctavia(&ls[i])
		if l.LoadBalancerID == "" {
			l.LoadBalancerID = filter.LoadBalancerID
		}
		ret = append(ret, *l)
	}
	return ret, nil
}

// UpdateListenerACL sets the allowed CIDRs and admin state of a listener. A
// nil AllowedCIDRs clears the allow-list.
func (o *Octavia) UpdateListenerACL(ctx context.Context, id string, acl model.ListenerACL) error {
	cidrs := acl.AllowedCIDRs
	if cidrs == nil {
		cidrs = []string{}
	}
	opts := listeners.UpdateOpts{
		AllowedCIDRs: &cidrs,
		AdminStateUp: ptr.To(acl.AdminStateUp),
	}

	mc := metrics.NewMetricContext("loadbalancer_listener", "update")
	_, err := listeners.Update(ctx, o.client, id, opts).Extract()
	return mc.ObserveRequest(err)
}

func (o *Octavia) DeleteListener(ctx context.Context, id string) error {
	mc := metrics.NewMetricContext("loadbalancer_listener", "delete")
	err := listeners.Delete(ctx, o.client, id).ExtractErr()
	return mc.ObserveRequest(err)
}

func poolFromOctavia(p *pools.Pool) *model.Pool {
	ret := &model.Pool{
		ID:          p.ID,
		Name:        p.Name,
		ProjectID:   p.ProjectID,
		Protocol:    p.Protocol,
		LBAlgorithm: p.LBMethod,
		Description: p.Description,
		Tags:        p.Tags,
	}
	if len(p.Loadbalancers) > 0 {
		ret.LoadBalancerID = p.Loadbalancers[0].ID
	}
	if len(p.Listeners) > 0 {
		ret.ListenerID = p.Listeners[0].ID
	}
	return ret
}

func (o *Octavia) CreatePool(ctx context.Context, pool *model.Pool) (*model.Pool, error) {
	opts := pools.CreateOpts{
		Name:        pool.Name,
		Description: pool.Description,
		ProjectID:   pool.ProjectID,
		ListenerID:  pool.ListenerID,
		Protocol:    pools.Protocol(pool.Protocol),
		LBMethod:    pools.LBMethod(pool.LBAlgorithm),
		Tags:        pool.Tags,
	}
	// Octavia accepts either the listener or the load balancer as parent.
	if pool.ListenerID == "" {
		opts.LoadbalancerID = pool.LoadBalancerID
	}

	mc := metrics.NewMetricContext("loadbalancer_pool", "create")
	created, err := pools.Create(ctx, o.client, opts).Extract()
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	ret := poolFromOctavia(created)
	if ret.LoadBalancerID == "" {
		ret.LoadBalancerID = pool.LoadBalancerID
	}
	return ret, nil
}

// ListPools lists pools. The listener is filtered on the client side since
// the API has no such filter.
func (o *Octavia) ListPools(ctx context.Context, filter PoolFilter) ([]model.Pool, error) {
	opts := pools.ListOpts{
		Name:           filter.Name,
		ProjectID:      filter.ProjectID,
		LoadbalancerID: filter.LoadBalancerID,
		Protocol:       filter.Protocol,
	}

	mc := metrics.NewMetricContext("loadbalancer_pool", "list")
	allPages, err := pools.List(o.client, opts).AllPages(ctx)
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	ps, err := pools.ExtractPools(allPages)
	if err != nil {
		return nil, err
	}

	ret := make([]model.Pool, 0, len(ps))
	for i := range ps {
		p := poolFromOctavia(&ps[i])
		if filter.ListenerID != "" && p.ListenerID != filter.ListenerID {
			continue
		}
		if p.LoadBalancerID == "" {
			p.LoadBalancerID = filter.LoadBalancerID
		}
		ret = append(ret, *p)
	}
	return ret, nil
}

func (o *Octavia) DeletePool(ctx context.Context, id string) error {
	mc := metrics.NewMetricContext("loadbalancer_pool", "delete")
	err := pools.Delete(ctx, o.client, id).ExtractErr()
	return mc.ObserveRequest(err)
}

func memberFromOctavia(poolID string, m *pools.Member) *model.Member {
	return &model.Member{
		ID:        m.ID,
		Name:      m.Name,
		ProjectID: m.ProjectID,
		PoolID:    poolID,
		SubnetID:  m.SubnetID,
		IP:        m.Address,
		Port:      m.ProtocolPort,
		Tags:      m.Tags,
	}
}

func (o *Octavia) CreateMember(ctx context.Context, member *model.Member) (*model.Member, error) {
	opts := pools.CreateMemberOpts{
		Name:         member.Name,
		ProjectID:    member.ProjectID,
		Address:      member.IP,
		ProtocolPort: member.Port,
		SubnetID:     member.SubnetID,
		Tags:         member.Tags,
	}

	mc := metrics.NewMetricContext("loadbalancer_member", "create")
	created, err := pools.CreateMember(ctx, o.client, member.PoolID, opts).Extract()
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	return memberFromOctavia(member.PoolID, created), nil
}

// ListMembers lists the members of a pool. The subnet is filtered on the
// client side.
func (o *Octavia) ListMembers(ctx context.Context, poolID string, filter MemberFilter) ([]model.Member, error) {
	opts := pools.ListMembersOpts{
		Name:         filter.Name,
		ProjectID:    filter.ProjectID,
		Address:      filter.Address,
		ProtocolPort: filter.Port,
	}

	mc := metrics.NewMetricContext("loadbalancer_member", "list")
	allPages, err := pools.ListMembers(o.client, poolID, opts).AllPages(ctx)
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	ms, err := pools.ExtractMembers(allPages)
	if err != nil {
		return nil, err
	}

	ret := make([]model.Member, 0, len(ms))
	for i := range ms {
		if filter.SubnetID != "" && ms[i].SubnetID != filter.SubnetID {
			continue
		}
		ret = append(ret, *memberFromOctavia(poolID, &ms[i]))
	}
	return ret, nil
}

func (o *Octavia) DeleteMember(ctx context.Context, poolID, id string) error {
	mc := metrics.NewMetricContext("loadbalancer_member", "delete")
	err := pools.DeleteMember(ctx, o.client, poolID, id).ExtractErr()
	return mc.ObserveRequest(err)
}
