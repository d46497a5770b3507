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

// Package model holds the value types exchanged between the convergence
// engine and the Octavia and Neutron clients.
package model

import (
	"fmt"
	"slices"
)

const (
	ProvisioningStatusActive = "ACTIVE"
	ProvisioningStatusError  = "ERROR"

	DirectionIngress = "ingress"
	DirectionEgress  = "egress"

	EtherTypeIPv4 = "IPv4"
	EtherTypeIPv6 = "IPv6"
)

// VersionData is the version discovery document: region -> interface -> service -> version ids.
type VersionData map[string]map[string]map[string][]string

// LoadBalancer is an Octavia load balancer.
type LoadBalancer struct {
	ID          string
	Name        string
	ProjectID   string
	SubnetID    string
	IP          string
	PortID      string
	Provider    string
	Description string
	Tags        []string

	// SecurityGroups are the groups applying to the load balancer members.
	SecurityGroups []string

	// ProvisioningStatus is only filled on reads.
	ProvisioningStatus string
}

// DeepCopy returns a copy that shares no slices with lb.
func (lb *LoadBalancer) DeepCopy() *LoadBalancer {
	if lb == nil {
		return nil
	}
	out := *lb
	out.Tags = slices.Clone(lb.Tags)
	out.SecurityGroups = slices.Clone(lb.SecurityGroups)
	return &out
}

func (lb *LoadBalancer) String() string {
	return fmt.Sprintf("LoadBalancer(%s, id=%s, vip=%s)", lb.Name, lb.ID, lb.IP)
}

// Listener is an Octavia listener.
type Listener struct {
	ID             string
	Name           string
	ProjectID      string
	LoadBalancerID string
	Protocol       string
	Port           int
	Description    string
	Tags           []string
}

func (l *Listener) String() string {
	return fmt.Sprintf("Listener(%s, id=%s)", l.Name, l.ID)
}

// ListenerACL is the allow-list pushed onto a listener. A nil AllowedCIDRs
// means the listener is not restricted.
type ListenerACL struct {
	AllowedCIDRs []string
	AdminStateUp bool
}

// Pool is an Octavia pool. ListenerID is empty for pools attached only to the load balancer.
type Pool struct {
	ID             string
	Name           string
	ProjectID      string
	LoadBalancerID string
	ListenerID     string
	Protocol       string
	LBAlgorithm    string
	Description    string
	Tags           []string
}

func (p *Pool) String() string {
	return fmt.Sprintf("Pool(%s, id=%s)", p.Name, p.ID)
}

// Member is an Octavia pool member.
type Member struct {
	ID        string
	Name      string
	ProjectID string
	PoolID    string
	SubnetID  string
	IP        string
	Port      int
	Tags      []string
}

func (m *Member) String() string {
	return fmt.Sprintf("Member(%s, id=%s)", m.Name, m.ID)
}

// SecurityGroup is a Neutron security group.
type SecurityGroup struct {
	ID          string
	Name        string
	ProjectID   string
	Description string
}

// SecurityGroupRule is a Neutron security group rule. A zero PortRangeMin
// means the rule applies to every port.
type SecurityGroupRule struct {
	ID              string
	SecurityGroupID string
	ProjectID       string
	Direction       string
	EtherType       string
	Protocol        string
	PortRangeMin    int
	PortRangeMax    int
	RemoteIPPrefix  string
	RemoteGroupID   string
	Description     string
}

// CoversPort reports whether port falls into the rule's port range.
func (r *SecurityGroupRule) CoversPort(port int) bool {
	if r.PortRangeMin == 0 {
		return true
	}
	return port >= r.PortRangeMin && port <= r.PortRangeMax
}

// FixedIP is an address of a port on a subnet.
type FixedIP struct {
	SubnetID  string
	IPAddress string
}

// Port is a Neutron port.
type Port struct {
	ID             string
	Name           string
	FixedIPs       []FixedIP
	SecurityGroups []string
}
