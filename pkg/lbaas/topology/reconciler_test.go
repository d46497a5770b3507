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

package topology

import (
	"context"
	"net/http"
	"strings"
	"time"

	version "github.com/hashicorp/go-version"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/config"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/openstack"
	cpoerrors "github.com/openstack/kuryr-lbaas/pkg/util/errors"
)

func newReconciler(cloud *openstack.FakeCloud, apiVersion, provider string) *Reconciler {
	return newReconcilerWithOpts(cloud, apiVersion, provider, config.Defaults().LoadBalancer)
}

func newReconcilerWithOpts(cloud *openstack.FakeCloud, apiVersion, provider string, opts config.LoadBalancerOpts) *Reconciler {
	features := lbaas.FeaturesForVersion(version.Must(version.NewVersion(apiVersion)), provider)
	driver := lbaas.NewDriver(cloud, cloud, opts, features,
		lbaas.WithClock(clocktesting.NewFakeClock(time.Now())),
		lbaas.WithJitter(func() float64 { return 0.8 }),
	)
	return NewReconciler(driver)
}

func membersOf(state *lbaas.State, pool *model.Pool) []model.Member {
	var ret []model.Member
	for _, m := range state.Members {
		if m.PoolID == pool.ID {
			ret = append(ret, m)
		}
	}
	return ret
}

func mustParse(doc string) *Topology {
	topo, err := Parse(strings.NewReader(doc))
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return topo
}

var _ = ginkgo.Describe("Reconciler", func() {
	var (
		ctx   context.Context
		cloud *openstack.FakeCloud
		r     *Reconciler
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		cloud = openstack.NewFakeCloud()
		r = newReconciler(cloud, "2.24", "amphora")
	})

	ginkgo.Describe("Ensure", func() {
		ginkgo.It("converges the whole topology", func() {
			state, err := r.Ensure(ctx, mustParse(sample))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Expect(state.LoadBalancer.Name).To(gomega.Equal("default/web"))
			gomega.Expect(state.Listeners).To(gomega.HaveLen(2))
			gomega.Expect(state.Pools).To(gomega.HaveLen(2))
			gomega.Expect(state.Members).To(gomega.HaveLen(2))
			gomega.Expect(membersOf(state, &state.Pools[0])).To(gomega.HaveLen(2))
			gomega.Expect(membersOf(state, &state.Pools[1])).To(gomega.BeEmpty())

			gomega.Expect(cloud.LoadBalancers).To(gomega.HaveLen(1))
			gomega.Expect(cloud.Listeners).To(gomega.HaveLen(2))
			gomega.Expect(cloud.Members).To(gomega.HaveLen(2))
			gomega.Expect(cloud.Members[1].Name).To(gomega.Equal("other/web-1:9090"))
			gomega.Expect(state.LoadBalancer.SecurityGroups).To(gomega.Equal([]string{"np-sg"}))
		})

		ginkgo.It("is idempotent", func() {
			first, err := r.Ensure(ctx, mustParse(sample))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			second, err := r.Ensure(ctx, mustParse(sample))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Expect(second.LoadBalancer.ID).To(gomega.Equal(first.LoadBalancer.ID))
			gomega.Expect(second.Listeners).To(gomega.Equal(first.Listeners))
			gomega.Expect(second.Pools).To(gomega.Equal(first.Pools))
			gomega.Expect(second.Members).To(gomega.Equal(first.Members))
			gomega.Expect(cloud.Listeners).To(gomega.HaveLen(2))
			gomega.Expect(cloud.Pools).To(gomega.HaveLen(2))
			gomega.Expect(cloud.Members).To(gomega.HaveLen(2))
		})

		ginkgo.It("skips listeners rejected by the provider", func() {
			cloud.RejectedProtocols.Insert("UDP")

			state, err := r.Ensure(ctx, mustParse(sample))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(state.Listeners).To(gomega.HaveLen(1))
			gomega.Expect(state.Listeners[0].Protocol).To(gomega.Equal("TCP"))
			gomega.Expect(cloud.Pools).To(gomega.HaveLen(1))
		})

		ginkgo.It("mirrors the pod security groups onto the listeners", func() {
			cloud.VIPSecurityGroups = []string{"lb-sg"}
			cloud.AddSecurityGroup(model.SecurityGroup{ID: "np-sg"}, model.SecurityGroupRule{
				Direction:      model.DirectionIngress,
				Protocol:       "tcp",
				PortRangeMin:   8080,
				PortRangeMax:   8080,
				RemoteIPPrefix: "10.1.0.0/16",
			})

			state, err := r.Ensure(ctx, mustParse(sample))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Expect(cloud.ACLUpdates).To(gomega.HaveLen(2))
			gomega.Expect(cloud.ACLUpdates[0].ListenerID).To(gomega.Equal(state.Listeners[0].ID))
			gomega.Expect(cloud.ACLUpdates[0].ACL).To(gomega.Equal(model.ListenerACL{AllowedCIDRs: []string{"10.1.0.0/16"}, AdminStateUp: true}))
			// Nothing opens port 53 of the pods.
			gomega.Expect(cloud.ACLUpdates[1].ACL.AdminStateUp).To(gomega.BeFalse())
		})

		ginkgo.It("aggregates listener failures and keeps going", func() {
			cloud.InjectError("CreatePool", openstack.HTTPError(http.StatusBadRequest))

			state, err := r.Ensure(ctx, mustParse(sample))
			gomega.Expect(err).To(gomega.HaveOccurred())
			gomega.Expect(err.Error()).To(gomega.ContainSubstring("listener TCP:80"))
			gomega.Expect(state.Listeners).To(gomega.HaveLen(2))
			gomega.Expect(state.Pools).To(gomega.HaveLen(1))
			gomega.Expect(cloud.Pools).To(gomega.HaveLen(1))
		})

		ginkgo.It("returns not ready when the load balancer cannot be created", func() {
			cloud.ForceProvider = "octavia"

			state, err := r.Ensure(ctx, mustParse(sample))
			gomega.Expect(cpoerrors.IsResourceNotReady(err)).To(gomega.BeTrue())
			gomega.Expect(state).To(gomega.BeNil())
		})

		ginkgo.Context("with several protocols on a port", func() {
			const doc = `
namespace: default
service: dns
projectID: project
subnetID: subnet
listeners:
- protocol: UDP
  port: 53
- protocol: TCP
  port: 53
`
			ginkgo.It("creates both listeners when supported", func() {
				state, err := r.Ensure(ctx, mustParse(doc))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(state.Listeners).To(gomega.HaveLen(2))
			})

			ginkgo.It("keeps the first listener with the ovn provider", func() {
				r = newReconciler(cloud, "2.24", config.ProviderOVN)

				state, err := r.Ensure(ctx, mustParse(doc))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(state.Listeners).To(gomega.HaveLen(1))
				gomega.Expect(state.Listeners[0].Protocol).To(gomega.Equal("UDP"))
			})

			ginkgo.It("keeps the first listener on older Octavia", func() {
				r = newReconciler(cloud, "2.10", "amphora")

				state, err := r.Ensure(ctx, mustParse(doc))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(state.Listeners).To(gomega.HaveLen(1))
				gomega.Expect(cloud.Listeners).To(gomega.HaveLen(1))
			})
		})
	})

	ginkgo.Context("with a dedicated security group", func() {
		ginkgo.BeforeEach(func() {
			opts := config.Defaults().LoadBalancer
			opts.SGMode = config.SGModeCreate
			r = newReconcilerWithOpts(cloud, "2.24", "amphora", opts)
		})

		ginkgo.It("is idempotent", func() {
			first, err := r.Ensure(ctx, mustParse(sample))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(cloud.SecurityGroups).To(gomega.HaveLen(1))
			sg := cloud.SecurityGroups[0]
			gomega.Expect(sg.Name).To(gomega.Equal("default/web"))
			gomega.Expect(cloud.RulesOf(sg.ID)).To(gomega.HaveLen(2))

			second, err := r.Ensure(ctx, mustParse(sample))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Expect(cloud.Calls("CreateSecurityGroup")).To(gomega.Equal(1))
			gomega.Expect(cloud.SecurityGroups).To(gomega.HaveLen(1))
			gomega.Expect(cloud.RulesOf(sg.ID)).To(gomega.HaveLen(2))
			gomega.Expect(cloud.Port(second.LoadBalancer.PortID).SecurityGroups).To(gomega.Equal([]string{sg.ID}))
			gomega.Expect(second.LoadBalancer.SecurityGroups).To(gomega.Equal(first.LoadBalancer.SecurityGroups))
			gomega.Expect(second.LoadBalancer.SecurityGroups).To(gomega.ContainElement(sg.ID))
		})

		ginkgo.It("deletes the group on release", func() {
			topo := mustParse(sample)
			_, err := r.Ensure(ctx, topo)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(cloud.SecurityGroups).To(gomega.HaveLen(1))

			gomega.Expect(r.Release(ctx, topo)).To(gomega.Succeed())
			gomega.Expect(cloud.LoadBalancers).To(gomega.BeEmpty())
			gomega.Expect(cloud.SecurityGroups).To(gomega.BeEmpty())
			gomega.Expect(cloud.Rules).To(gomega.BeEmpty())
		})
	})

	ginkgo.Describe("Release", func() {
		ginkgo.It("deletes the load balancer with its children", func() {
			topo := mustParse(sample)
			_, err := r.Ensure(ctx, topo)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Expect(r.Release(ctx, topo)).To(gomega.Succeed())
			gomega.Expect(cloud.LoadBalancers).To(gomega.BeEmpty())
			gomega.Expect(cloud.Listeners).To(gomega.BeEmpty())
			gomega.Expect(cloud.Pools).To(gomega.BeEmpty())
			gomega.Expect(cloud.Members).To(gomega.BeEmpty())
		})

		ginkgo.It("succeeds when there is nothing to release", func() {
			gomega.Expect(r.Release(ctx, mustParse(sample))).To(gomega.Succeed())
			gomega.Expect(cloud.Calls("DeleteLoadBalancer")).To(gomega.Equal(0))
		})
	})
})
