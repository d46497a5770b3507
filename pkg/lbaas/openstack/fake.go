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
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gophercloud/gophercloud/v2"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
)

// HTTPError returns an error carrying the given HTTP status code, as
// gophercloud reports it.
func HTTPError(code int) error {
	return gophercloud.ErrUnexpectedResponseCode{
		Method:   http.MethodGet,
		URL:      "http://fake",
		Expected: []int{http.StatusOK},
		Actual:   code,
	}
}

// ACLUpdate records a call to UpdateListenerACL.
type ACLUpdate struct {
	ListenerID string
	ACL        model.ListenerACL
}

// FakeCloud is an in-memory Octavia and Neutron. Objects are kept in
// creation order. It is safe for concurrent use.
type FakeCloud struct {
	mu sync.Mutex

	Versions model.VersionData

	// CreateStatuses are the provisioning statuses returned by successive
	// GetLoadBalancer calls on a newly created load balancer. The load
	// balancer stays in the last one. Defaults to ACTIVE.
	CreateStatuses []string
	// DeleteLinger is the number of GetLoadBalancer calls that still find a
	// deleted load balancer, in PENDING_DELETE.
	DeleteLinger int
	// RejectedProtocols makes CreateListener fail with 400 for these protocols.
	RejectedProtocols sets.Set[string]
	// VIPSecurityGroups are the groups of VIP ports created with a load balancer.
	VIPSecurityGroups []string
	// ForceProvider overrides the provider of created load balancers.
	ForceProvider string

	LoadBalancers  []*model.LoadBalancer
	Listeners      []*model.Listener
	Pools          []*model.Pool
	Members        []*model.Member
	SecurityGroups []*model.SecurityGroup
	Rules          []*model.SecurityGroupRule
	Ports          []*model.Port

	SecurityGroupTags map[string][]string
	ACLUpdates        []ACLUpdate

	statuses map[string][]string
	deleting map[string]int
	errs     map[string][]error
	calls    map[string]int
	nextIP   int
}

var (
	_ LoadBalancerInterface = &FakeCloud{}
	_ NetworkInterface      = &FakeCloud{}
)

// NewFakeCloud returns an empty cloud advertising Octavia API version 2.24.
func NewFakeCloud() *FakeCloud {
	return &FakeCloud{
		Versions: model.VersionData{
			"RegionOne": {
				"public": {
					loadBalancerServiceType: {"v2.0", "v2.24"},
				},
			},
		},
		RejectedProtocols: sets.New[string](),
		SecurityGroupTags: map[string][]string{},
		statuses:          map[string][]string{},
		deleting:          map[string]int{},
		errs:              map[string][]error{},
		calls:             map[string]int{},
	}
}

// InjectError makes the next calls of method fail with errs, in order.
func (f *FakeCloud) InjectError(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = append(f.errs[method], errs...)
}

// QueueStatuses sets the provisioning statuses returned by the next
// GetLoadBalancer calls for id.
func (f *FakeCloud) QueueStatuses(id string, statuses ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = append(f.statuses[id], statuses...)
}

// Calls returns how many times method was called.
func (f *FakeCloud) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// call counts the call and pops an injected error. Must hold f.mu.
func (f *FakeCloud) call(method string) error {
	f.calls[method]++
	if errs := f.errs[method]; len(errs) > 0 {
		f.errs[method] = errs[1:]
		return errs[0]
	}
	return nil
}

func newID() string {
	return uuid.New().String()
}

func matches(filter, value string) bool {
	return filter == "" || filter == value
}

func (f *FakeCloud) GetVersionData(_ context.Context) (model.VersionData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetVersionData"); err != nil {
		return nil, err
	}
	return f.Versions, nil
}

func (f *FakeCloud) CreateLoadBalancer(_ context.Context, lb *model.LoadBalancer) (*model.LoadBalancer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateLoadBalancer"); err != nil {
		return nil, err
	}
	for _, existing := range f.LoadBalancers {
		if existing.Name == lb.Name && existing.ProjectID == lb.ProjectID {
			return nil, HTTPError(http.StatusConflict)
		}
	}

	created := lb.DeepCopy()
	created.ID = newID()
	created.SecurityGroups = nil
	if created.IP == "" {
		f.nextIP++
		created.IP = fmt.Sprintf("10.0.0.%d", f.nextIP)
	}
	if f.ForceProvider != "" {
		created.Provider = f.ForceProvider
	}

	port := &model.Port{
		ID:             newID(),
		Name:           "octavia-lb-" + created.ID,
		FixedIPs:       []model.FixedIP{{SubnetID: created.SubnetID, IPAddress: created.IP}},
		SecurityGroups: slices.Clone(f.VIPSecurityGroups),
	}
	f.Ports = append(f.Ports, port)
	created.PortID = port.ID

	created.ProvisioningStatus = model.ProvisioningStatusActive
	if len(f.CreateStatuses) > 0 {
		created.ProvisioningStatus = f.CreateStatuses[0]
		f.statuses[created.ID] = slices.Clone(f.CreateStatuses)
	}
	f.LoadBalancers = append(f.LoadBalancers, created)
	return created.DeepCopy(), nil
}

func (f *FakeCloud) findLoadBalancer(id string) *model.LoadBalancer {
	for _, lb := range f.LoadBalancers {
		if lb.ID == id {
			return lb
		}
	}
	return nil
}

func (f *FakeCloud) GetLoadBalancer(_ context.Context, id string) (*model.LoadBalancer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("GetLoadBalancer"); err != nil {
		return nil, err
	}

	if left, ok := f.deleting[id]; ok {
		if left == 0 {
			delete(f.deleting, id)
			return nil, HTTPError(http.StatusNotFound)
		}
		f.deleting[id] = left - 1
		return &model.LoadBalancer{ID: id, ProvisioningStatus: "PENDING_DELETE"}, nil
	}

	lb := f.findLoadBalancer(id)
	if lb == nil {
		return nil, HTTPError(http.StatusNotFound)
	}
	if queue := f.statuses[id]; len(queue) > 0 {
		lb.ProvisioningStatus = queue[0]
		f.statuses[id] = queue[1:]
	}
	return lb.DeepCopy(), nil
}

func (f *FakeCloud) ListLoadBalancers(_ context.Context, filter LoadBalancerFilter) ([]model.LoadBalancer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListLoadBalancers"); err != nil {
		return nil, err
	}

	var ret []model.LoadBalancer
	for _, lb := range f.LoadBalancers {
		if matches(filter.Name, lb.Name) && matches(filter.ProjectID, lb.ProjectID) &&
			matches(filter.VIPAddress, lb.IP) && matches(filter.VIPSubnetID, lb.SubnetID) {
			ret = append(ret, *lb.DeepCopy())
		}
	}
	return ret, nil
}

func (f *FakeCloud) DeleteLoadBalancer(_ context.Context, id string, cascade bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("DeleteLoadBalancer"); err != nil {
		return err
	}

	lb := f.findLoadBalancer(id)
	if lb == nil {
		return HTTPError(http.StatusNotFound)
	}
	hasChildren := slices.ContainsFunc(f.Listeners, func(l *model.Listener) bool { return l.LoadBalancerID == id }) ||
		slices.ContainsFunc(f.Pools, func(p *model.Pool) bool { return p.LoadBalancerID == id })
	if hasChildren && !cascade {
		return HTTPError(http.StatusConflict)
	}

	poolIDs := sets.New[string]()
	for _, p := range f.Pools {
		if p.LoadBalancerID == id {
			poolIDs.Insert(p.ID)
		}
	}
	f.Members = slices.DeleteFunc(f.Members, func(m *model.Member) bool { return poolIDs.Has(m.PoolID) })
	f.Pools = slices.DeleteFunc(f.Pools, func(p *model.Pool) bool { return p.LoadBalancerID == id })
	f.Listeners = slices.DeleteFunc(f.Listeners, func(l *model.Listener) bool { return l.LoadBalancerID == id })
	f.Ports = slices.DeleteFunc(f.Ports, func(p *model.Port) bool { return p.ID == lb.PortID })
	f.LoadBalancers = slices.DeleteFunc(f.LoadBalancers, func(l *model.LoadBalancer) bool { return l.ID == id })
	delete(f.statuses, id)
	if f.DeleteLinger > 0 {
		f.deleting[id] = f.DeleteLinger
	}
	return nil
}

func (f *FakeCloud) CreateListener(_ context.Context, listener *model.Listener) (*model.Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateListener"); err != nil {
		return nil, err
	}
	if f.RejectedProtocols.Has(listener.Protocol) {
		return nil, HTTPError(http.StatusBadRequest)
	}
	if f.findLoadBalancer(listener.LoadBalancerID) == nil {
		return nil, HTTPError(http.StatusNotFound)
	}
	for _, l := range f.Listeners {
		if l.LoadBalancerID == listener.LoadBalancerID && l.Port == listener.Port && l.Protocol == listener.Protocol {
			return nil, HTTPError(http.StatusConflict)
		}
	}

	created := *listener
	created.ID = newID()
	created.Tags = slices.Clone(listener.Tags)
	f.Listeners = append(f.Listeners, &created)
	ret := created
	return &ret, nil
}

func (f *FakeCloud) ListListeners(_ context.Context, filter ListenerFilter) ([]model.Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListListeners"); err != nil {
		return nil, err
	}

	var ret []model.Listener
	for _, l := range f.Listeners {
		if matches(filter.Name, l.Name) && matches(filter.ProjectID, l.ProjectID) &&
			matches(filter.LoadBalancerID, l.LoadBalancerID) && matches(filter.Protocol, l.Protocol) &&
			(filter.Port == 0 || filter.Port == l.Port) {
			ret = append(ret, *l)
		}
	}
	return ret, nil
}

func (f *FakeCloud) UpdateListenerACL(_ context.Context, id string, acl model.ListenerACL) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("UpdateListenerACL"); err != nil {
		return err
	}
	if !slices.ContainsFunc(f.Listeners, func(l *model.Listener) bool { return l.ID == id }) {
		return HTTPError(http.StatusNotFound)
	}
	acl.AllowedCIDRs = slices.Clone(acl.AllowedCIDRs)
	f.ACLUpdates = append(f.ACLUpdates, ACLUpdate{ListenerID: id, ACL: acl})
	return nil
}

func (f *FakeCloud) DeleteListener(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("DeleteListener"); err != nil {
		return err
	}
	if !slices.ContainsFunc(f.Listeners, func(l *model.Listener) bool { return l.ID == id }) {
		return HTTPError(http.StatusNotFound)
	}
	f.Listeners = slices.DeleteFunc(f.Listeners, func(l *model.Listener) bool { return l.ID == id })
	return nil
}

func (f *FakeCloud) CreatePool(_ context.Context, pool *model.Pool) (*model.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreatePool"); err != nil {
		return nil, err
	}
	for _, p := range f.Pools {
		if p.LoadBalancerID == pool.LoadBalancerID && p.Name == pool.Name {
			return nil, HTTPError(http.StatusConflict)
		}
		if pool.ListenerID != "" && p.ListenerID == pool.ListenerID {
			return nil, HTTPError(http.StatusConflict)
		}
	}

	created := *pool
	created.ID = newID()
	created.Tags = slices.Clone(pool.Tags)
	f.Pools = append(f.Pools, &created)
	ret := created
	return &ret, nil
}

func (f *FakeCloud) ListPools(_ context.Context, filter PoolFilter) ([]model.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListPools"); err != nil {
		return nil, err
	}

	var ret []model.Pool
	for _, p := range f.Pools {
		if matches(filter.Name, p.Name) && matches(filter.ProjectID, p.ProjectID) &&
			matches(filter.LoadBalancerID, p.LoadBalancerID) && matches(filter.ListenerID, p.ListenerID) &&
			matches(filter.Protocol, p.Protocol) {
			ret = append(ret, *p)
		}
	}
	return ret, nil
}

func (f *FakeCloud) DeletePool(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("DeletePool"); err != nil {
		return err
	}
	if !slices.ContainsFunc(f.Pools, func(p *model.Pool) bool { return p.ID == id }) {
		return HTTPError(http.StatusNotFound)
	}
	f.Members = slices.DeleteFunc(f.Members, func(m *model.Member) bool { return m.PoolID == id })
	f.Pools = slices.DeleteFunc(f.Pools, func(p *model.Pool) bool { return p.ID == id })
	return nil
}

func (f *FakeCloud) CreateMember(_ context.Context, member *model.Member) (*model.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateMember"); err != nil {
		return nil, err
	}
	if !slices.ContainsFunc(f.Pools, func(p *model.Pool) bool { return p.ID == member.PoolID }) {
		return nil, HTTPError(http.StatusNotFound)
	}
	for _, m := range f.Members {
		if m.PoolID == member.PoolID && m.IP == member.IP && m.Port == member.Port {
			return nil, HTTPError(http.StatusConflict)
		}
	}

	created := *member
	created.ID = newID()
	created.Tags = slices.Clone(member.Tags)
	f.Members = append(f.Members, &created)
	ret := created
	return &ret, nil
}

func (f *FakeCloud) ListMembers(_ context.Context, poolID string, filter MemberFilter) ([]model.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListMembers"); err != nil {
		return nil, err
	}

	var ret []model.Member
	for _, m := range f.Members {
		if m.PoolID == poolID && matches(filter.Name, m.Name) && matches(filter.ProjectID, m.ProjectID) &&
			matches(filter.SubnetID, m.SubnetID) && matches(filter.Address, m.IP) &&
			(filter.Port == 0 || filter.Port == m.Port) {
			ret = append(ret, *m)
		}
	}
	return ret, nil
}

func (f *FakeCloud) DeleteMember(_ context.Context, poolID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("DeleteMember"); err != nil {
		return err
	}
	found := func(m *model.Member) bool { return m.PoolID == poolID && m.ID == id }
	if !slices.ContainsFunc(f.Members, found) {
		return HTTPError(http.StatusNotFound)
	}
	f.Members = slices.DeleteFunc(f.Members, found)
	return nil
}

// AddPort registers a port, e.g. a VIP port created out of band.
func (f *FakeCloud) AddPort(port model.Port) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ports = append(f.Ports, &port)
}

// Port returns a copy of the port with the given id, or nil.
func (f *FakeCloud) Port(id string) *model.Port {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.Ports {
		if p.ID == id {
			ret := *p
			ret.SecurityGroups = slices.Clone(p.SecurityGroups)
			return &ret
		}
	}
	return nil
}

func (f *FakeCloud) ListPorts(_ context.Context, filter PortFilter) ([]model.Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListPorts"); err != nil {
		return nil, err
	}

	var ret []model.Port
	for _, p := range f.Ports {
		if slices.ContainsFunc(p.FixedIPs, func(ip model.FixedIP) bool {
			return matches(filter.SubnetID, ip.SubnetID) && matches(filter.IPAddress, ip.IPAddress)
		}) {
			port := *p
			port.SecurityGroups = slices.Clone(p.SecurityGroups)
			ret = append(ret, port)
		}
	}
	return ret, nil
}

func (f *FakeCloud) UpdatePortSecurityGroups(_ context.Context, portID string, securityGroups []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("UpdatePortSecurityGroups"); err != nil {
		return err
	}
	for _, p := range f.Ports {
		if p.ID == portID {
			p.SecurityGroups = slices.Clone(securityGroups)
			return nil
		}
	}
	return HTTPError(http.StatusNotFound)
}

// AddSecurityGroup registers a group with its rules, e.g. a pod security group.
func (f *FakeCloud) AddSecurityGroup(sg model.SecurityGroup, sgRules ...model.SecurityGroupRule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SecurityGroups = append(f.SecurityGroups, &sg)
	for i := range sgRules {
		r := sgRules[i]
		if r.ID == "" {
			r.ID = newID()
		}
		r.SecurityGroupID = sg.ID
		f.Rules = append(f.Rules, &r)
	}
}

func (f *FakeCloud) CreateSecurityGroup(_ context.Context, sg *model.SecurityGroup) (*model.SecurityGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateSecurityGroup"); err != nil {
		return nil, err
	}
	created := *sg
	created.ID = newID()
	f.SecurityGroups = append(f.SecurityGroups, &created)
	ret := created
	return &ret, nil
}

func (f *FakeCloud) ListSecurityGroups(_ context.Context, filter SecurityGroupFilter) ([]model.SecurityGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListSecurityGroups"); err != nil {
		return nil, err
	}

	var ret []model.SecurityGroup
	for _, sg := range f.SecurityGroups {
		if matches(filter.Name, sg.Name) && matches(filter.ProjectID, sg.ProjectID) {
			ret = append(ret, *sg)
		}
	}
	return ret, nil
}

func (f *FakeCloud) DeleteSecurityGroup(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("DeleteSecurityGroup"); err != nil {
		return err
	}
	if !slices.ContainsFunc(f.SecurityGroups, func(sg *model.SecurityGroup) bool { return sg.ID == id }) {
		return HTTPError(http.StatusNotFound)
	}
	for _, p := range f.Ports {
		if slices.Contains(p.SecurityGroups, id) {
			return HTTPError(http.StatusConflict)
		}
	}
	f.Rules = slices.DeleteFunc(f.Rules, func(r *model.SecurityGroupRule) bool { return r.SecurityGroupID == id })
	f.SecurityGroups = slices.DeleteFunc(f.SecurityGroups, func(sg *model.SecurityGroup) bool { return sg.ID == id })
	delete(f.SecurityGroupTags, id)
	return nil
}

func (f *FakeCloud) ReplaceSecurityGroupTags(_ context.Context, id string, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ReplaceSecurityGroupTags"); err != nil {
		return err
	}
	if !slices.ContainsFunc(f.SecurityGroups, func(sg *model.SecurityGroup) bool { return sg.ID == id }) {
		return HTTPError(http.StatusNotFound)
	}
	f.SecurityGroupTags[id] = slices.Clone(tags)
	return nil
}

func sameRule(a, b *model.SecurityGroupRule) bool {
	return a.SecurityGroupID == b.SecurityGroupID &&
		a.Direction == b.Direction &&
		a.EtherType == b.EtherType &&
		strings.EqualFold(a.Protocol, b.Protocol) &&
		a.PortRangeMin == b.PortRangeMin &&
		a.PortRangeMax == b.PortRangeMax &&
		a.RemoteIPPrefix == b.RemoteIPPrefix &&
		a.RemoteGroupID == b.RemoteGroupID
}

func (f *FakeCloud) CreateSecurityGroupRule(_ context.Context, rule *model.SecurityGroupRule) (*model.SecurityGroupRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("CreateSecurityGroupRule"); err != nil {
		return nil, err
	}
	if !slices.ContainsFunc(f.SecurityGroups, func(sg *model.SecurityGroup) bool { return sg.ID == rule.SecurityGroupID }) {
		return nil, HTTPError(http.StatusNotFound)
	}
	for _, r := range f.Rules {
		if sameRule(r, rule) {
			return nil, HTTPError(http.StatusConflict)
		}
	}

	created := *rule
	created.ID = newID()
	f.Rules = append(f.Rules, &created)
	ret := created
	return &ret, nil
}

func (f *FakeCloud) ListSecurityGroupRules(_ context.Context, filter SecurityGroupRuleFilter) ([]model.SecurityGroupRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("ListSecurityGroupRules"); err != nil {
		return nil, err
	}

	var ret []model.SecurityGroupRule
	for _, r := range f.Rules {
		if matches(filter.SecurityGroupID, r.SecurityGroupID) && matches(filter.ProjectID, r.ProjectID) &&
			matches(filter.Description, r.Description) {
			ret = append(ret, *r)
		}
	}
	return ret, nil
}

func (f *FakeCloud) DeleteSecurityGroupRule(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("DeleteSecurityGroupRule"); err != nil {
		return err
	}
	if !slices.ContainsFunc(f.Rules, func(r *model.SecurityGroupRule) bool { return r.ID == id }) {
		return HTTPError(http.StatusNotFound)
	}
	f.Rules = slices.DeleteFunc(f.Rules, func(r *model.SecurityGroupRule) bool { return r.ID == id })
	return nil
}

// RulesOf returns copies of the rules of a security group.
func (f *FakeCloud) RulesOf(sgID string) []model.SecurityGroupRule {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ret []model.SecurityGroupRule
	for _, r := range f.Rules {
		if r.SecurityGroupID == sgID {
			ret = append(ret, *r)
		}
	}
	return ret
}
