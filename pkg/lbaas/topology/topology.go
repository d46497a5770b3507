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

// Package topology describes the desired load balancing of a Service in YAML
// and converges it with the lbaas driver.
package topology

import (
	"bytes"
	"fmt"
	"io"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/sets"
	netutils "k8s.io/utils/net"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
)

var protocols = sets.New("TCP", "UDP", "SCTP", "HTTP", "HTTPS", "TERMINATED_HTTPS", "PROXY")

// Topology is one load balancer with its listeners and their members.
type Topology struct {
	Namespace string `yaml:"namespace"`
	Service   string `yaml:"service"`
	ProjectID string `yaml:"projectID"`
	SubnetID  string `yaml:"subnetID"`
	// IP is the VIP. Octavia allocates one when empty.
	IP       string `yaml:"ip,omitempty"`
	Provider string `yaml:"provider,omitempty"`
	// SecurityGroups are the groups of the pods behind the Service.
	SecurityGroups []string   `yaml:"securityGroups,omitempty"`
	Listeners      []Listener `yaml:"listeners"`
}

// Listener is a port exposed by the load balancer.
type Listener struct {
	Protocol string `yaml:"protocol"`
	Port     int    `yaml:"port"`
	// TargetPort defaults to Port.
	TargetPort int      `yaml:"targetPort,omitempty"`
	Members    []Member `yaml:"members,omitempty"`
}

// Member is a pod serving a listener.
type Member struct {
	// Namespace defaults to the namespace of the topology.
	Namespace string `yaml:"namespace,omitempty"`
	Name      string `yaml:"name"`
	IP        string `yaml:"ip"`
	// Port defaults to the target port of the listener.
	Port int `yaml:"port,omitempty"`
	// SubnetID defaults to the subnet of the topology.
	SubnetID string `yaml:"subnetID,omitempty"`
}

// Parse reads a topology, fills the defaults and validates it.
func Parse(r io.Reader) (*Topology, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	topo := &Topology{}
	if err := yaml.UnmarshalStrict(data, topo); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	topo.setDefaults()
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return topo, nil
}

// ReadFile parses the topology at path, which may start with ~.
func ReadFile(path string) (*Topology, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, err
	}
	topo, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return topo, nil
}

func (t *Topology) setDefaults() {
	for i := range t.Listeners {
		l := &t.Listeners[i]
		if l.TargetPort == 0 {
			l.TargetPort = l.Port
		}
		for j := range l.Members {
			m := &l.Members[j]
			if m.Namespace == "" {
				m.Namespace = t.Namespace
			}
			if m.Port == 0 {
				m.Port = l.TargetPort
			}
			if m.SubnetID == "" {
				m.SubnetID = t.SubnetID
			}
		}
	}
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// Validate checks the topology after the defaults are filled.
func (t *Topology) Validate() error {
	if t.Namespace == "" || t.Service == "" {
		return fmt.Errorf("namespace and service are required")
	}
	if t.SubnetID == "" {
		return fmt.Errorf("%s/%s: subnetID is required", t.Namespace, t.Service)
	}
	if t.IP != "" && netutils.ParseIPSloppy(t.IP) == nil {
		return fmt.Errorf("%s/%s: invalid ip %q", t.Namespace, t.Service, t.IP)
	}

	seen := sets.New[string]()
	for _, l := range t.Listeners {
		if !protocols.Has(l.Protocol) {
			return fmt.Errorf("%s/%s: unknown protocol %q", t.Namespace, t.Service, l.Protocol)
		}
		if !validPort(l.Port) || !validPort(l.TargetPort) {
			return fmt.Errorf("%s/%s: invalid port %d:%d", t.Namespace, t.Service, l.Port, l.TargetPort)
		}
		key := fmt.Sprintf("%s:%d", l.Protocol, l.Port)
		if seen.Has(key) {
			return fmt.Errorf("%s/%s: duplicate listener %s", t.Namespace, t.Service, key)
		}
		seen.Insert(key)

		for _, m := range l.Members {
			if m.Name == "" {
				return fmt.Errorf("%s/%s: listener %s: member without name", t.Namespace, t.Service, key)
			}
			if netutils.ParseIPSloppy(m.IP) == nil {
				return fmt.Errorf("%s/%s: member %s: invalid ip %q", t.Namespace, t.Service, m.Name, m.IP)
			}
			if !validPort(m.Port) {
				return fmt.Errorf("%s/%s: member %s: invalid port %d", t.Namespace, t.Service, m.Name, m.Port)
			}
		}
	}
	return nil
}

// LoadBalancer returns the load balancer spec of the topology.
func (t *Topology) LoadBalancer() *model.LoadBalancer {
	return &model.LoadBalancer{
		Name:           lbaas.LoadBalancerName(t.Namespace, t.Service),
		ProjectID:      t.ProjectID,
		SubnetID:       t.SubnetID,
		IP:             t.IP,
		Provider:       t.Provider,
		SecurityGroups: t.SecurityGroups,
	}
}

// ServiceObject returns the Service exposing the listeners.
func (t *Topology) ServiceObject() *corev1.Service {
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Namespace: t.Namespace, Name: t.Service},
	}
	for _, l := range t.Listeners {
		svc.Spec.Ports = append(svc.Spec.Ports, corev1.ServicePort{
			Protocol:   corev1.Protocol(l.Protocol),
			Port:       int32(l.Port),
			TargetPort: intstr.FromInt32(int32(l.TargetPort)),
		})
	}
	return svc
}
