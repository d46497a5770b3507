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
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"
	netutils "k8s.io/utils/net"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/config"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/openstack"
	cpoerrors "github.com/openstack/kuryr-lbaas/pkg/util/errors"
)

// listenerTarget is a listener as seen by the security group synthesizer.
type listenerTarget struct {
	listenerID string
	protocol   string
	// port is the port exposed by the listener.
	port int
	// targetPort is the port of the pods.
	targetPort int
	// ruleName is the description of the rules opening the listener.
	ruleName string
}

// allowedCIDRs is the reachability of a listener derived from the pods'
// security groups. When all is set cidrs is irrelevant.
type allowedCIDRs struct {
	all   bool
	cidrs sets.Set[string]
}

// computeAllowedCIDRs collects the sources allowed to reach the pods on the
// target port through the security groups sgs, skipping the load balancer
// group lbSG.
func (d *Driver) computeAllowedCIDRs(ctx context.Context, sgs []string, lbSG string, target listenerTarget) (allowedCIDRs, error) {
	allowed := allowedCIDRs{cidrs: sets.New[string]()}
	podSGs := sets.New(d.opts.PodSecurityGroups...)

	for _, sg := range sgs {
		if sg == lbSG {
			continue
		}
		if podSGs.Has(sg) {
			// No network policy applies to the pods.
			allowed.all = true
			return allowed, nil
		}

		rules, err := d.network.ListSecurityGroupRules(ctx, openstack.SecurityGroupRuleFilter{SecurityGroupID: sg})
		if err != nil {
			return allowed, fmt.Errorf("failed to list rules of security group %s: %w", sg, err)
		}
		for i := range rules {
			rule := &rules[i]
			// Network policy rules never refer to remote groups.
			if rule.RemoteGroupID != "" {
				continue
			}
			if rule.Direction != model.DirectionIngress || !strings.EqualFold(rule.Protocol, target.protocol) {
				continue
			}
			if !rule.CoversPort(target.targetPort) {
				continue
			}
			if rule.RemoteIPPrefix == "" {
				allowed.all = true
				continue
			}
			allowed.cidrs.Insert(rule.RemoteIPPrefix)
		}
	}
	return allowed, nil
}

// findListenersSG returns the id of the security group created for lb, or
// an empty string. The group is named after lb and, unless byName is set,
// must be one of lb.SecurityGroups or of the groups of the VIP port.
func (d *Driver) findListenersSG(ctx context.Context, lb *model.LoadBalancer, byName bool) (string, error) {
	sgs, err := d.network.ListSecurityGroups(ctx, openstack.SecurityGroupFilter{Name: lb.Name, ProjectID: lb.ProjectID})
	if err != nil {
		return "", fmt.Errorf("failed to list security groups of %s: %w", lb, err)
	}
	for _, sg := range sgs {
		if byName || slices.Contains(lb.SecurityGroups, sg.ID) {
			return sg.ID, nil
		}
	}

	// A load balancer found by its natural key only carries the pods' groups.
	if len(sgs) > 0 {
		port, err := d.getVIPPort(ctx, lb)
		switch {
		case err == nil:
			for _, sg := range sgs {
				if slices.Contains(port.SecurityGroups, sg.ID) {
					return sg.ID, nil
				}
			}
		case !cpoerrors.IsNotFound(err):
			return "", err
		}
	}
	klog.V(4).Infof("Security group of %s not created yet", lb)
	return "", nil
}

// adoptListenersSG appends the dedicated security group of lb, if any, to
// lb.SecurityGroups.
func (d *Driver) adoptListenersSG(ctx context.Context, lb *model.LoadBalancer) error {
	sgID, err := d.findListenersSG(ctx, lb, false)
	if err != nil {
		return err
	}
	if sgID != "" && !slices.Contains(lb.SecurityGroups, sgID) {
		lb.SecurityGroups = append(lb.SecurityGroups, sgID)
	}
	return nil
}

// loadBalancerSG returns the security group guarding the listeners of lb:
// the dedicated one in create mode, else the first group of the VIP port.
func (d *Driver) loadBalancerSG(ctx context.Context, lb *model.LoadBalancer, byName bool) (string, error) {
	if d.opts.SGMode == config.SGModeCreate {
		return d.findListenersSG(ctx, lb, byName)
	}

	port, err := d.getVIPPort(ctx, lb)
	if err != nil {
		if cpoerrors.IsNotFound(err) {
			klog.Warningf("Cannot find the security group of %s: %v", lb, err)
			return "", nil
		}
		return "", err
	}
	if len(port.SecurityGroups) == 0 {
		return "", nil
	}
	return port.SecurityGroups[0], nil
}

func etherTypeOf(ip string) string {
	if netutils.IsIPv6String(ip) || netutils.IsIPv6CIDRString(ip) {
		return model.EtherTypeIPv6
	}
	return model.EtherTypeIPv4
}

// createLBSecurityGroupRule opens the port of listener on the dedicated
// security group of lb, creating the group and attaching it to the VIP port
// first if needed. The group is appended to lb.SecurityGroups.
func (d *Driver) createLBSecurityGroupRule(ctx context.Context, lb *model.LoadBalancer, listener *model.Listener) error {
	sgID, err := d.findListenersSG(ctx, lb, false)
	if err != nil {
		return err
	}

	if sgID == "" {
		// Without the VIP port the group would be left unattached.
		port, err := d.getVIPPort(ctx, lb)
		if cpoerrors.IsNotFound(err) {
			return cpoerrors.NewResourceNotReady(err.Error())
		}
		if err != nil {
			return err
		}

		sg, err := d.network.CreateSecurityGroup(ctx, &model.SecurityGroup{Name: lb.Name, ProjectID: lb.ProjectID})
		if err != nil {
			return fmt.Errorf("failed to create security group for %s: %w", lb, err)
		}
		klog.V(2).Infof("Created security group %s for %s", sg.ID, lb)

		if len(d.opts.ResourceTags) > 0 {
			if err := d.network.ReplaceSecurityGroupTags(ctx, sg.ID, d.opts.ResourceTags); err != nil {
				klog.Warningf("Failed to tag security group %s: %v", sg.ID, err)
			}
		}
		lb.SecurityGroups = append(lb.SecurityGroups, sg.ID)

		if err := d.network.UpdatePortSecurityGroups(ctx, port.ID, []string{sg.ID}); err != nil {
			return fmt.Errorf("failed to set security group %s on VIP port %s: %w", sg.ID, port.ID, err)
		}
		sgID = sg.ID
	}

	_, err = d.network.CreateSecurityGroupRule(ctx, &model.SecurityGroupRule{
		SecurityGroupID: sgID,
		ProjectID:       lb.ProjectID,
		Direction:       model.DirectionIngress,
		EtherType:       etherTypeOf(lb.IP),
		Protocol:        strings.ToLower(listener.Protocol),
		PortRangeMin:    listener.Port,
		PortRangeMax:    listener.Port,
		Description:     listener.Name,
	})
	if err != nil && !cpoerrors.IsConflictError(err) {
		klog.Errorf("Failed when creating security group rule for listener %s: %v", listener.Name, err)
	}
	return nil
}

// applyMembersSecurityGroups mirrors the reachability of the pods onto the
// listener, as an allowed CIDRs list when supported or as rules of the load
// balancer security group. newSGs replaces lb.SecurityGroups as the pods'
// groups when set.
func (d *Driver) applyMembersSecurityGroups(ctx context.Context, lb *model.LoadBalancer, target listenerTarget, newSGs []string) error {
	klog.V(4).Infof("Applying members security groups to listener %s", target.ruleName)

	lbSG, err := d.loadBalancerSG(ctx, lb, newSGs != nil)
	if err != nil {
		return err
	}
	// The group may not exist yet, the members will trigger this again.
	if lbSG == "" {
		return nil
	}

	sgs := newSGs
	if sgs == nil {
		sgs = lb.SecurityGroups
	}
	allowed, err := d.computeAllowedCIDRs(ctx, sgs, lbSG, target)
	if err != nil {
		return err
	}

	if d.features.ACLs {
		return d.updateListenerACL(ctx, lb, target.listenerID, allowed)
	}
	return d.syncSecurityGroupRules(ctx, lb, lbSG, target, allowed)
}

// updateListenerACL pushes allowed onto the listener once lb is ACTIVE.
func (d *Driver) updateListenerACL(ctx context.Context, lb *model.LoadBalancer, listenerID string, allowed allowedCIDRs) error {
	acl := model.ListenerACL{AdminStateUp: true}
	if !allowed.all {
		acl.AllowedCIDRs = sets.List(allowed.cidrs)
		// No source is allowed.
		if len(acl.AllowedCIDRs) == 0 {
			acl.AdminStateUp = false
		}
	}

	if err := d.waitForProvisioning(ctx, lb, d.activationTimeout(), fastInterval, true); err != nil {
		return err
	}

	if err := d.lb.UpdateListenerACL(ctx, listenerID, acl); err != nil {
		klog.Errorf("Error when updating listener %s: %v", listenerID, err)
		return cpoerrors.NewResourceNotReady(fmt.Sprintf("listener %s: %v", listenerID, err))
	}
	klog.V(2).InfoS("Updated listener allowed CIDRs", "listener", listenerID, "allowedCIDRs", acl.AllowedCIDRs, "adminStateUp", acl.AdminStateUp)
	return nil
}

// syncSecurityGroupRules makes the rules of lbSG opening the listener match
// allowed: one rule per CIDR, or a single rule without prefix when all
// sources are allowed. Rules of other listeners are left alone.
func (d *Driver) syncSecurityGroupRules(ctx context.Context, lb *model.LoadBalancer, lbSG string, target listenerTarget, allowed allowedCIDRs) error {
	existing, err := d.network.ListSecurityGroupRules(ctx, openstack.SecurityGroupRuleFilter{SecurityGroupID: lbSG, ProjectID: lb.ProjectID})
	if err != nil {
		return fmt.Errorf("failed to list rules of security group %s: %w", lbSG, err)
	}

	var toDelete []model.SecurityGroupRule
	kept := sets.New[string]()
	keptDefault := false
	for _, rule := range existing {
		if rule.Direction != model.DirectionIngress || rule.RemoteGroupID != "" {
			continue
		}
		forListener := strings.EqualFold(rule.Protocol, target.protocol) && rule.PortRangeMin == target.port
		if !forListener {
			// The listener changed protocol or port.
			if rule.Description == target.ruleName {
				toDelete = append(toDelete, rule)
			}
			continue
		}

		switch {
		case rule.RemoteIPPrefix == "":
			// Removing the default rule while no CIDR is allowed would cut
			// all traffic.
			if !allowed.all && allowed.cidrs.Len() > 0 {
				toDelete = append(toDelete, rule)
				continue
			}
			keptDefault = true
		case allowed.all || !allowed.cidrs.Has(rule.RemoteIPPrefix):
			toDelete = append(toDelete, rule)
		default:
			kept.Insert(rule.RemoteIPPrefix)
		}
	}

	var toCreate []string
	if allowed.all {
		if !keptDefault {
			toCreate = append(toCreate, "")
		}
	} else {
		toCreate = sets.List(allowed.cidrs.Difference(kept))
	}

	for _, prefix := range toCreate {
		etherType := etherTypeOf(lb.IP)
		if prefix != "" {
			etherType = etherTypeOf(prefix)
		}
		klog.V(4).Infof("Creating rule for %q on security group %s of listener %s", prefix, lbSG, target.ruleName)
		_, err := d.network.CreateSecurityGroupRule(ctx, &model.SecurityGroupRule{
			SecurityGroupID: lbSG,
			ProjectID:       lb.ProjectID,
			Direction:       model.DirectionIngress,
			EtherType:       etherType,
			Protocol:        strings.ToLower(target.protocol),
			PortRangeMin:    target.port,
			PortRangeMax:    target.port,
			RemoteIPPrefix:  prefix,
			Description:     target.ruleName,
		})
		if err != nil && !cpoerrors.IsConflictError(err) {
			klog.Errorf("Failed when creating security group rule for listener %s: %v", target.ruleName, err)
		}
	}

	for _, rule := range toDelete {
		klog.V(4).Infof("Deleting rule %s (%q) from security group %s", rule.ID, rule.RemoteIPPrefix, lbSG)
		if err := d.network.DeleteSecurityGroupRule(ctx, rule.ID); err != nil && !cpoerrors.IsNotFound(err) {
			klog.Errorf("Failed to delete security group rule %s: %v", rule.ID, err)
		}
	}
	return nil
}
