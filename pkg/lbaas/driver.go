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

// Package lbaas converges Octavia load balancers, listeners, pools and
// members towards a desired topology, and keeps the load balancer security
// posture in line with the network policies of the backing pods.
//
// Every operation blocks until Octavia reports the parent load balancer
// ACTIVE or the activation timeout expires, in which case an error matching
// errors.ErrResourceNotReady is returned and the caller should retry later.
package lbaas

import (
	"context"
	"errors"
	"fmt"
	"slices"

	corev1 "k8s.io/api/core/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/config"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/openstack"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/timer"
	"github.com/openstack/kuryr-lbaas/pkg/metrics"
	cpoerrors "github.com/openstack/kuryr-lbaas/pkg/util/errors"
)

// State is the last known state of the load balancer of a Service.
type State struct {
	LoadBalancer *model.LoadBalancer
	Listeners    []model.Listener
	Pools        []model.Pool
	Members      []model.Member
}

// Driver converges Octavia resources. It keeps no state between calls and
// may be shared by goroutines working on different load balancers.
type Driver struct {
	lb       openstack.LoadBalancerInterface
	network  openstack.NetworkInterface
	opts     config.LoadBalancerOpts
	features Features
	clock    clock.Clock
	jitter   timer.Jitter
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock replaces the clock used to wait for Octavia.
func WithClock(c clock.Clock) Option {
	return func(d *Driver) {
		d.clock = c
	}
}

// WithJitter replaces the random factor of the poll intervals.
func WithJitter(j timer.Jitter) Option {
	return func(d *Driver) {
		d.jitter = j
	}
}

// NewDriver returns a Driver for an Octavia with the given features, see DetectFeatures.
func NewDriver(lb openstack.LoadBalancerInterface, network openstack.NetworkInterface, opts config.LoadBalancerOpts, features Features, options ...Option) *Driver {
	d := &Driver{
		lb:       lb,
		network:  network,
		opts:     opts,
		features: features,
		clock:    clock.RealClock{},
		jitter:   timer.GaussianJitter,
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// Features returns the Octavia features the driver uses.
func (d *Driver) Features() Features {
	return d.features
}

func (d *Driver) createLoadBalancer(ctx context.Context, spec *model.LoadBalancer) (*model.LoadBalancer, error) {
	req := spec.DeepCopy()
	d.addTags(resourceLoadBalancer, &req.Tags, &req.Description)

	created, err := d.lb.CreateLoadBalancer(ctx, req)
	if err != nil {
		return nil, err
	}

	lb := spec.DeepCopy()
	lb.ID = created.ID
	lb.IP = created.IP
	lb.Tags = created.Tags
	lb.Description = created.Description
	lb.ProvisioningStatus = created.ProvisioningStatus
	if port, err := d.getVIPPort(ctx, lb); err != nil {
		klog.Warningf("Cannot find the VIP port of %s: %v", lb, err)
	} else {
		lb.PortID = port.ID
	}

	if spec.Provider != "" && spec.Provider != created.Provider {
		klog.Errorf("Request provider(%s) != Response provider(%s)", spec.Provider, created.Provider)
		return nil, nil
	}
	lb.Provider = created.Provider
	return lb, nil
}

func (d *Driver) findLoadBalancer(ctx context.Context, spec *model.LoadBalancer) (*model.LoadBalancer, error) {
	found, err := d.lb.ListLoadBalancers(ctx, openstack.LoadBalancerFilter{
		Name:        spec.Name,
		ProjectID:   spec.ProjectID,
		VIPAddress:  spec.IP,
		VIPSubnetID: spec.SubnetID,
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}

	lb := spec.DeepCopy()
	lb.ID = found[0].ID
	lb.IP = found[0].IP
	lb.Provider = found[0].Provider
	lb.Tags = found[0].Tags
	lb.Description = found[0].Description
	lb.ProvisioningStatus = found[0].ProvisioningStatus
	if port, err := d.getVIPPort(ctx, lb); err != nil {
		klog.Warningf("Cannot find the VIP port of %s: %v", lb, err)
	} else {
		lb.PortID = port.ID
	}
	if d.opts.SGMode == config.SGModeCreate {
		if err := d.adoptListenersSG(ctx, lb); err != nil {
			klog.Warningf("Cannot find the security group of %s: %v", lb, err)
		}
	}

	if lb.ProvisioningStatus == model.ProvisioningStatusError {
		klog.Warningf("Found %s in error status, releasing it", lb)
		if err := d.ReleaseLoadBalancer(ctx, lb); err != nil {
			klog.Errorf("Failed to release load balancer %s: %v", lb, err)
		}
		return nil, nil
	}
	return lb, nil
}

// FindLoadBalancer looks up the load balancer matching the name, project,
// VIP subnet and VIP address of spec. It returns nil, nil if there is none.
func (d *Driver) FindLoadBalancer(ctx context.Context, spec *model.LoadBalancer) (*model.LoadBalancer, error) {
	return d.findLoadBalancer(ctx, spec)
}

// EnsureLoadBalancer creates the load balancer described by spec, or finds
// it. spec.Name, ProjectID, SubnetID, IP, SecurityGroups and Provider are
// used; an empty provider defaults to the configured one.
func (d *Driver) EnsureLoadBalancer(ctx context.Context, spec *model.LoadBalancer) (lb *model.LoadBalancer, err error) {
	mc := metrics.NewMetricContext("loadbalancer", "ensure")
	defer func() { err = mc.ObserveReconcile(err) }()

	req := spec.DeepCopy()
	if req.Provider == "" {
		req.Provider = d.opts.LBProvider
	}

	res := ensure(ctx, req, d.createLoadBalancer, d.findLoadBalancer)
	switch res.Outcome {
	case Created, Conflict:
		return res.Object, nil
	case Fatal:
		return nil, fmt.Errorf("failed to ensure load balancer %s: %w", req.Name, res.Err)
	}
	// Present before the creation but deleted since, or found in error
	// status and released.
	return nil, cpoerrors.NewResourceNotReady(req.Name)
}

// ReleaseLoadBalancer deletes lb with all its children, then its dedicated
// security group. A group that cannot be deleted is left behind.
func (d *Driver) ReleaseLoadBalancer(ctx context.Context, lb *model.LoadBalancer) (err error) {
	mc := metrics.NewMetricContext("loadbalancer", "release")
	defer func() { err = mc.ObserveReconcile(err) }()

	// Looked up first, the VIP port goes away with lb.
	sgID, sgErr := d.findListenersSG(ctx, lb, false)
	if sgErr != nil {
		klog.Errorf("Cannot list security groups for load balancer %s: %v", lb, sgErr)
	}

	err = release(ctx, d, lb, lb.String(), func(ctx context.Context) error {
		return d.lb.DeleteLoadBalancer(ctx, lb.ID, true)
	}, false)
	if err != nil {
		return err
	}
	if sgID == "" {
		return nil
	}

	// The group is in use until the VIP port is gone.
	if err := d.waitForDeletion(ctx, lb, d.activationTimeout()); err != nil {
		return err
	}
	if err := d.network.DeleteSecurityGroup(ctx, sgID); err != nil && !cpoerrors.IsNotFound(err) {
		klog.Errorf("Error when deleting load balancer security group %s, leaving it orphaned: %v", sgID, err)
	}
	return nil
}

func (d *Driver) createListener(ctx context.Context, spec *model.Listener) (*model.Listener, error) {
	req := *spec
	d.addTags(resourceListener, &req.Tags, &req.Description)

	created, err := d.lb.CreateListener(ctx, &req)
	if err != nil {
		return nil, err
	}
	listener := *spec
	listener.ID = created.ID
	return &listener, nil
}

func (d *Driver) findListener(ctx context.Context, spec *model.Listener) (*model.Listener, error) {
	found, err := d.lb.ListListeners(ctx, openstack.ListenerFilter{
		Name:           spec.Name,
		ProjectID:      spec.ProjectID,
		LoadBalancerID: spec.LoadBalancerID,
		Protocol:       spec.Protocol,
		Port:           spec.Port,
	})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	listener := *spec
	listener.ID = found[0].ID
	return &listener, nil
}

// EnsureListener creates the listener of lb for protocol and port, or finds
// it. A listener rejected by the provider, e.g. for an unsupported protocol,
// yields nil, nil. In create mode the port is opened on the dedicated
// security group of lb, which is created and appended to lb.SecurityGroups
// if needed.
func (d *Driver) EnsureListener(ctx context.Context, lb *model.LoadBalancer, protocol string, port int) (listener *model.Listener, err error) {
	mc := metrics.NewMetricContext("listener", "ensure")
	defer func() { err = mc.ObserveReconcile(err) }()

	spec := &model.Listener{
		Name:           ListenerName(lb.Name, protocol, port),
		ProjectID:      lb.ProjectID,
		LoadBalancerID: lb.ID,
		Protocol:       protocol,
		Port:           port,
	}

	listener, err = ensureProvisioned(ctx, d, lb, spec, d.createListener, d.findListener, slowInterval)
	if errors.Is(err, cpoerrors.ErrProviderRejected) {
		klog.Warningf("Listener creation failed, most probably because protocol %s is not supported: %v", protocol, err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if d.opts.SGMode == config.SGModeCreate {
		if err := d.createLBSecurityGroupRule(ctx, lb, listener); err != nil {
			return nil, err
		}
	}
	return listener, nil
}

// ReleaseListener deletes listener and the security group rule opening it.
func (d *Driver) ReleaseListener(ctx context.Context, lb *model.LoadBalancer, listener *model.Listener) (err error) {
	mc := metrics.NewMetricContext("listener", "release")
	defer func() { err = mc.ObserveReconcile(err) }()

	err = release(ctx, d, lb, listener.String(), func(ctx context.Context) error {
		return d.lb.DeleteListener(ctx, listener.ID)
	}, true)
	if err != nil {
		return err
	}

	sgID, err := d.loadBalancerSG(ctx, lb, false)
	if err != nil || sgID == "" {
		return err
	}
	rules, err := d.network.ListSecurityGroupRules(ctx, openstack.SecurityGroupRuleFilter{SecurityGroupID: sgID, Description: listener.Name})
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		klog.Warningf("Cannot find SG rule for %s (%s) listener.", listener.ID, listener.Name)
		return nil
	}
	if err := d.network.DeleteSecurityGroupRule(ctx, rules[0].ID); err != nil && !cpoerrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete security group rule %s of listener %s: %w", rules[0].ID, listener.Name, err)
	}
	return nil
}

func (d *Driver) createPool(ctx context.Context, spec *model.Pool) (*model.Pool, error) {
	req := *spec
	d.addTags(resourcePool, &req.Tags, &req.Description)

	created, err := d.lb.CreatePool(ctx, &req)
	if err != nil {
		return nil, err
	}
	pool := *spec
	pool.ID = created.ID
	return &pool, nil
}

func (d *Driver) listPools(ctx context.Context, spec *model.Pool) ([]model.Pool, error) {
	return d.lb.ListPools(ctx, openstack.PoolFilter{
		Name:           spec.Name,
		ProjectID:      spec.ProjectID,
		LoadBalancerID: spec.LoadBalancerID,
		Protocol:       spec.Protocol,
	})
}

func (d *Driver) findPoolByListener(ctx context.Context, spec *model.Pool) (*model.Pool, error) {
	found, err := d.listPools(ctx, spec)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(found, func(p model.Pool) bool { return p.ListenerID == spec.ListenerID })
	if i < 0 {
		return nil, nil
	}
	pool := *spec
	pool.ID = found[i].ID
	return &pool, nil
}

func (d *Driver) findPoolByName(ctx context.Context, spec *model.Pool) (*model.Pool, error) {
	found, err := d.listPools(ctx, spec)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(found, func(p model.Pool) bool { return p.Name == spec.Name })
	if i < 0 {
		return nil, nil
	}
	pool := *spec
	pool.ID = found[i].ID
	return &pool, nil
}

// EnsurePool creates the pool of listener, or finds it.
func (d *Driver) EnsurePool(ctx context.Context, lb *model.LoadBalancer, listener *model.Listener) (pool *model.Pool, err error) {
	mc := metrics.NewMetricContext("pool", "ensure")
	defer func() { err = mc.ObserveReconcile(err) }()

	spec := &model.Pool{
		Name:           listener.Name,
		ProjectID:      lb.ProjectID,
		LoadBalancerID: lb.ID,
		ListenerID:     listener.ID,
		Protocol:       listener.Protocol,
		LBAlgorithm:    d.opts.LBAlgorithm,
	}
	return ensureProvisioned(ctx, d, lb, spec, d.createPool, d.findPoolByListener, fastInterval)
}

// EnsurePoolAttachedToLB creates a pool of lb that has no listener, or finds it.
func (d *Driver) EnsurePoolAttachedToLB(ctx context.Context, lb *model.LoadBalancer, namespace, service, protocol string) (pool *model.Pool, err error) {
	mc := metrics.NewMetricContext("pool", "ensure")
	defer func() { err = mc.ObserveReconcile(err) }()

	spec := &model.Pool{
		Name:           LoadBalancerPoolName(lb.Name, namespace, service),
		ProjectID:      lb.ProjectID,
		LoadBalancerID: lb.ID,
		Protocol:       protocol,
		LBAlgorithm:    d.opts.LBAlgorithm,
	}
	return ensureProvisioned(ctx, d, lb, spec, d.createPool, d.findPoolByName, fastInterval)
}

// ReleasePool deletes pool.
func (d *Driver) ReleasePool(ctx context.Context, lb *model.LoadBalancer, pool *model.Pool) (err error) {
	mc := metrics.NewMetricContext("pool", "release")
	defer func() { err = mc.ObserveReconcile(err) }()

	return release(ctx, d, lb, pool.String(), func(ctx context.Context) error {
		return d.lb.DeletePool(ctx, pool.ID)
	}, true)
}

func (d *Driver) createMember(ctx context.Context, spec *model.Member) (*model.Member, error) {
	req := *spec
	var description string
	d.addTags(resourceMember, &req.Tags, &description)

	created, err := d.lb.CreateMember(ctx, &req)
	if err != nil {
		return nil, err
	}
	member := *spec
	member.ID = created.ID
	return &member, nil
}

func (d *Driver) findMember(ctx context.Context, spec *model.Member) (*model.Member, error) {
	found, err := d.lb.ListMembers(ctx, spec.PoolID, openstack.MemberFilter{
		Name:      spec.Name,
		ProjectID: spec.ProjectID,
		SubnetID:  spec.SubnetID,
		Address:   spec.IP,
		Port:      spec.Port,
	})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	member := *spec
	member.ID = found[0].ID
	return &member, nil
}

// EnsureMember adds the target namespace/name at ip:port to pool, or finds
// it. When listenerPort is set and security group rules are enforced, the
// pods' reachability is then mirrored onto the listener of pool.
func (d *Driver) EnsureMember(ctx context.Context, lb *model.LoadBalancer, pool *model.Pool, subnetID, ip string, port int, targetNamespace, targetName string, listenerPort int) (member *model.Member, err error) {
	mc := metrics.NewMetricContext("member", "ensure")
	defer func() { err = mc.ObserveReconcile(err) }()

	spec := &model.Member{
		Name:      MemberName(targetNamespace, targetName, port),
		ProjectID: lb.ProjectID,
		PoolID:    pool.ID,
		SubnetID:  subnetID,
		IP:        ip,
		Port:      port,
	}
	member, err = ensureProvisioned(ctx, d, lb, spec, d.createMember, d.findMember, fastInterval)
	if err != nil {
		return nil, err
	}

	if d.opts.EnforceSGRules && listenerPort != 0 {
		target := listenerTarget{
			listenerID: pool.ListenerID,
			protocol:   pool.Protocol,
			port:       listenerPort,
			targetPort: port,
			ruleName:   pool.Name,
		}
		if err := d.applyMembersSecurityGroups(ctx, lb, target, nil); err != nil {
			return nil, err
		}
	}
	return member, nil
}

// ReleaseMember removes member from its pool.
func (d *Driver) ReleaseMember(ctx context.Context, lb *model.LoadBalancer, member *model.Member) (err error) {
	mc := metrics.NewMetricContext("member", "release")
	defer func() { err = mc.ObserveReconcile(err) }()

	return release(ctx, d, lb, member.String(), func(ctx context.Context) error {
		return d.lb.DeleteMember(ctx, member.PoolID, member.ID)
	}, true)
}

// UpdateLBaaSSG records sgs as the security groups of the pods behind svc
// and mirrors their reachability onto every listener of state. Ports of svc
// without a listener are skipped.
func (d *Driver) UpdateLBaaSSG(ctx context.Context, svc *corev1.Service, state *State, sgs []string) (err error) {
	mc := metrics.NewMetricContext("security_group", "update")
	defer func() { err = mc.ObserveReconcile(err) }()

	if state == nil || state.LoadBalancer == nil {
		klog.V(4).Infof("Service %s/%s has no load balancer state yet", svc.Namespace, svc.Name)
		return cpoerrors.NewResourceNotReady(svc.Name)
	}
	lb := state.LoadBalancer
	lb.SecurityGroups = slices.Clone(sgs)
	if !d.opts.EnforceSGRules {
		return nil
	}

	lbName := LoadBalancerName(svc.Namespace, svc.Name)
	var errs []error
	for _, svcPort := range svc.Spec.Ports {
		protocol := string(svcPort.Protocol)
		port := int(svcPort.Port)

		i := slices.IndexFunc(state.Listeners, func(l model.Listener) bool { return l.Protocol == protocol && l.Port == port })
		if i < 0 {
			klog.Warningf("There is no listener associated to the protocol %s and port %d. Skipping", protocol, port)
			continue
		}

		// Named target ports are not resolved, the service port is used instead.
		targetPort := svcPort.TargetPort.IntValue()
		if targetPort == 0 {
			targetPort = port
		}

		target := listenerTarget{
			listenerID: state.Listeners[i].ID,
			protocol:   protocol,
			port:       port,
			targetPort: targetPort,
			ruleName:   ListenerName(lbName, protocol, port),
		}
		if err := d.applyMembersSecurityGroups(ctx, lb, target, lb.SecurityGroups); err != nil {
			errs = append(errs, fmt.Errorf("listener %s: %w", target.ruleName, err))
		}
	}
	return utilerrors.NewAggregate(errs)
}
