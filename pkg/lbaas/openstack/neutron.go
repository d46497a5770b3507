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

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/attributestags"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/groups"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/rules"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/ports"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
	"github.com/openstack/kuryr-lbaas/pkg/metrics"
)

// Neutron implements NetworkInterface with gophercloud.
type Neutron struct {
	client *gophercloud.ServiceClient
}

var _ NetworkInterface = &Neutron{}

// NewNeutron wraps a Neutron service client.
func NewNeutron(client *gophercloud.ServiceClient) *Neutron {
	return &Neutron{client: client}
}

func (n *Neutron) ListPorts(ctx context.Context, filter PortFilter) ([]model.Port, error) {
	opts := ports.ListOpts{
		FixedIPs: []ports.FixedIPOpts{
			{
				IPAddress: filter.IPAddress,
				SubnetID:  filter.SubnetID,
			},
		},
	}

	mc := metrics.NewMetricContext("port", "list")
	allPages, err := ports.List(n.client, opts).AllPages(ctx)
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	allPorts, err := ports.ExtractPorts(allPages)
	if err != nil {
		return nil, err
	}

	ret := make([]model.Port, 0, len(allPorts))
	for _, p := range allPorts {
		port := model.Port{
			ID:             p.ID,
			Name:           p.Name,
			SecurityGroups: p.SecurityGroups,
		}
		for _, ip := range p.FixedIPs {
			port.FixedIPs = append(port.FixedIPs, model.FixedIP{SubnetID: ip.SubnetID, IPAddress: ip.IPAddress})
		}
		ret = append(ret, port)
	}
	return ret, nil
}

func (n *Neutron) UpdatePortSecurityGroups(ctx context.Context, portID string, securityGroups []string) error {
	opts := ports.UpdateOpts{SecurityGroups: &securityGroups}

	mc := metrics.NewMetricContext("port", "update")
	_, err := ports.Update(ctx, n.client, portID, opts).Extract()
	return mc.ObserveRequest(err)
}

func securityGroupFromNeutron(sg *groups.SecGroup) *model.SecurityGroup {
	return &model.SecurityGroup{
		ID:          sg.ID,
		Name:        sg.Name,
		ProjectID:   sg.ProjectID,
		Description: sg.Description,
	}
}

func (n *Neutron) CreateSecurityGroup(ctx context.Context, sg *model.SecurityGroup) (*model.SecurityGroup, error) {
	opts := groups.CreateOpts{
		Name:        sg.Name,
		Description: sg.Description,
		ProjectID:   sg.ProjectID,
	}

	mc := metrics.NewMetricContext("security_group", "create")
	created, err := groups.Create(ctx, n.client, opts).Extract()
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	return securityGroupFromNeutron(created), nil
}

func (n *Neutron) ListSecurityGroups(ctx context.Context, filter SecurityGroupFilter) ([]model.SecurityGroup, error) {
	opts := groups.ListOpts{
		Name:      filter.Name,
		ProjectID: filter.ProjectID,
	}

	mc := metrics.NewMetricContext("security_group", "list")
	allPages, err := groups.List(n.client, opts).AllPages(ctx)
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	sgs, err := groups.ExtractGroups(allPages)
	if err != nil {
		return nil, err
	}

	ret := make([]model.SecurityGroup, 0, len(sgs))
	for i := range sgs {
		ret = append(ret, *securityGroupFromNeutron(&sgs[i]))
	}
	return ret, nil
}

func (n *Neutron) DeleteSecurityGroup(ctx context.Context, id string) error {
	mc := metrics.NewMetricContext("security_group", "delete")
	err := groups.Delete(ctx, n.client, id).ExtractErr()
	return mc.ObserveRequest(err)
}

func (n *Neutron) ReplaceSecurityGroupTags(ctx context.Context, id string, tags []string) error {
	mc := metrics.NewMetricContext("security_group_tag", "update")
	_, err := attributestags.ReplaceAll(ctx, n.client, "security-groups", id, attributestags.ReplaceAllOpts{Tags: tags}).Extract()
	return mc.ObserveRequest(err)
}

func ruleFromNeutron(r *rules.SecGroupRule) *model.SecurityGroupRule {
	return &model.SecurityGroupRule{
		ID:              r.ID,
		SecurityGroupID: r.SecGroupID,
		ProjectID:       r.ProjectID,
		Direction:       r.Direction,
		EtherType:       r.EtherType,
		Protocol:        r.Protocol,
		PortRangeMin:    r.PortRangeMin,
		PortRangeMax:    r.PortRangeMax,
		RemoteIPPrefix:  r.RemoteIPPrefix,
		RemoteGroupID:   r.RemoteGroupID,
		Description:     r.Description,
	}
}

func (n *Neutron) CreateSecurityGroupRule(ctx context.Context, rule *model.SecurityGroupRule) (*model.SecurityGroupRule, error) {
	opts := rules.CreateOpts{
		Direction:      rules.RuleDirection(rule.Direction),
		EtherType:      rules.RuleEtherType(rule.EtherType),
		SecGroupID:     rule.SecurityGroupID,
		PortRangeMin:   rule.PortRangeMin,
		PortRangeMax:   rule.PortRangeMax,
		Protocol:       rules.RuleProtocol(rule.Protocol),
		RemoteIPPrefix: rule.RemoteIPPrefix,
		RemoteGroupID:  rule.RemoteGroupID,
		Description:    rule.Description,
		ProjectID:      rule.ProjectID,
	}

	mc := metrics.NewMetricContext("security_group_rule", "create")
	created, err := rules.Create(ctx, n.client, opts).Extract()
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	return ruleFromNeutron(created), nil
}

// ListSecurityGroupRules lists rules. The description is filtered on the
// client side.
func (n *Neutron) ListSecurityGroupRules(ctx context.Context, filter SecurityGroupRuleFilter) ([]model.SecurityGroupRule, error) {
	opts := rules.ListOpts{
		SecGroupID: filter.SecurityGroupID,
		ProjectID:  filter.ProjectID,
	}

	mc := metrics.NewMetricContext("security_group_rule", "list")
	page, err := rules.List(n.client, opts).AllPages(ctx)
	if mc.ObserveRequest(err) != nil {
		return nil, err
	}
	rs, err := rules.ExtractRules(page)
	if err != nil {
		return nil, err
	}

	ret := make([]model.SecurityGroupRule, 0, len(rs))
	for i := range rs {
		if filter.Description != "" && rs[i].Description != filter.Description {
			continue
		}
		ret = append(ret, *ruleFromNeutron(&rs[i]))
	}
	return ret, nil
}

func (n *Neutron) DeleteSecurityGroupRule(ctx context.Context, id string) error {
	mc := metrics.NewMetricContext("security_group_rule", "delete")
	err := rules.Delete(ctx, n.client, id).ExtractErr()
	return mc.ObserveRequest(err)
}
