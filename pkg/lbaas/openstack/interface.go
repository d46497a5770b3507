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

// Package openstack exposes the subset of the Octavia and Neutron APIs used
// by the load balancer driver, in terms of the value types of package model.
package openstack

import (
	"context"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
)

// LoadBalancerFilter selects load balancers. Empty fields are ignored.
type LoadBalancerFilter struct {
	Name        string
	ProjectID   string
	VIPAddress  string
	VIPSubnetID string
}

// ListenerFilter selects listeners. Empty fields are ignored.
type ListenerFilter struct {
	Name           string
	ProjectID      string
	LoadBalancerID string
	Protocol       string
	Port           int
}

// PoolFilter selects pools. Empty fields are ignored.
type PoolFilter struct {
	Name           string
	ProjectID      string
	LoadBalancerID string
	ListenerID     string
	Protocol       string
}

// MemberFilter selects members of a pool. Empty fields are ignored.
type MemberFilter struct {
	Name      string
	ProjectID string
	SubnetID  string
	Address   string
	Port      int
}

// SecurityGroupFilter selects security groups. Empty fields are ignored.
type SecurityGroupFilter struct {
	Name      string
	ProjectID string
}

// SecurityGroupRuleFilter selects security group rules. Empty fields are ignored.
type SecurityGroupRuleFilter struct {
	SecurityGroupID string
	ProjectID       string
	Description     string
}

// PortFilter selects ports by one of their fixed IPs.
type PortFilter struct {
	SubnetID  string
	IPAddress string
}

// LoadBalancerInterface is the Octavia API as used by the driver.
type LoadBalancerInterface interface {
	GetVersionData(ctx context.Context) (model.VersionData, error)

	CreateLoadBalancer(ctx context.Context, lb *model.LoadBalancer) (*model.LoadBalancer, error)
	GetLoadBalancer(ctx context.Context, id string) (*model.LoadBalancer, error)
	ListLoadBalancers(ctx context.Context, filter LoadBalancerFilter) ([]model.LoadBalancer, error)
	DeleteLoadBalancer(ctx context.Context, id string, cascade bool) error

	CreateListener(ctx context.Context, listener *model.Listener) (*model.Listener, error)
	ListListeners(ctx context.Context, filter ListenerFilter) ([]model.Listener, error)
	UpdateListenerACL(ctx context.Context, id string, acl model.ListenerACL) error
	DeleteListener(ctx context.Context, id string) error

	CreatePool(ctx context.Context, pool *model.Pool) (*model.Pool, error)
	ListPools(ctx context.Context, filter PoolFilter) ([]model.Pool, error)
	DeletePool(ctx context.Context, id string) error

	CreateMember(ctx context.Context, member *model.Member) (*model.Member, error)
	ListMembers(ctx context.Context, poolID string, filter MemberFilter) ([]model.Member, error)
	DeleteMember(ctx context.Context, poolID, id string) error
}

// NetworkInterface is the Neutron API as used by the driver.
type NetworkInterface interface {
	ListPorts(ctx context.Context, filter PortFilter) ([]model.Port, error)
	UpdatePortSecurityGroups(ctx context.Context, portID string, securityGroups []string) error

	CreateSecurityGroup(ctx context.Context, sg *model.SecurityGroup) (*model.SecurityGroup, error)
	ListSecurityGroups(ctx context.Context, filter SecurityGroupFilter) ([]model.SecurityGroup, error)
	DeleteSecurityGroup(ctx context.Context, id string) error
	ReplaceSecurityGroupTags(ctx context.Context, id string, tags []string) error

	CreateSecurityGroupRule(ctx context.Context, rule *model.SecurityGroupRule) (*model.SecurityGroupRule, error)
	ListSecurityGroupRules(ctx context.Context, filter SecurityGroupRuleFilter) ([]model.SecurityGroupRule, error)
	DeleteSecurityGroupRule(ctx context.Context, id string) error
}
