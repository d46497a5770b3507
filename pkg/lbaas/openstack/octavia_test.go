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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
	cpoerrors "github.com/openstack/kuryr-lbaas/pkg/util/errors"
)

func newTestServiceClient(t *testing.T, mux *http.ServeMux) *gophercloud.ServiceClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &gophercloud.ServiceClient{
		ProviderClient: &gophercloud.ProviderClient{TokenID: "token"},
		Endpoint:       srv.URL + "/",
	}
}

func writeJSON(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprint(w, body)
}

func TestListPoolsFiltersListener(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/lbaas/pools", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lb-1", r.URL.Query().Get("loadbalancer_id"))
		writeJSON(w, http.StatusOK, `{"pools": [
			{"id": "p1", "name": "a", "listeners": [{"id": "l1"}], "loadbalancers": [{"id": "lb-1"}]},
			{"id": "p2", "name": "b", "listeners": [{"id": "l2"}], "loadbalancers": [{"id": "lb-1"}]}
		]}`)
	})

	o := NewOctavia(newTestServiceClient(t, mux), "RegionOne", "")
	ps, err := o.ListPools(context.TODO(), PoolFilter{LoadBalancerID: "lb-1", ListenerID: "l2"})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "p2", ps[0].ID)
	assert.Equal(t, "l2", ps[0].ListenerID)
	assert.Equal(t, "lb-1", ps[0].LoadBalancerID)
}

func TestUpdateListenerACLSendsEmptyList(t *testing.T) {
	var body map[string]map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/lbaas/listeners/l1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, `{"listener": {"id": "l1"}}`)
	})

	o := NewOctavia(newTestServiceClient(t, mux), "RegionOne", "")
	err := o.UpdateListenerACL(context.TODO(), "l1", model.ListenerACL{AdminStateUp: true})
	require.NoError(t, err)

	assert.Equal(t, []any{}, body["listener"]["allowed_cidrs"])
	assert.Equal(t, true, body["listener"]["admin_state_up"])
}

func TestListMembersFiltersSubnet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/lbaas/pools/p1/members", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"members": [
			{"id": "m1", "address": "10.0.0.1", "protocol_port": 80, "subnet_id": "s1"},
			{"id": "m2", "address": "10.0.0.1", "protocol_port": 80, "subnet_id": "s2"}
		]}`)
	})

	o := NewOctavia(newTestServiceClient(t, mux), "RegionOne", "")
	ms, err := o.ListMembers(context.TODO(), "p1", MemberFilter{SubnetID: "s2"})
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "m2", ms[0].ID)
	assert.Equal(t, "p1", ms[0].PoolID)
	assert.Equal(t, 80, ms[0].Port)
}

func TestGetLoadBalancerNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/lbaas/loadbalancers/missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"faultstring": "not found"}`)
	})

	o := NewOctavia(newTestServiceClient(t, mux), "RegionOne", "")
	_, err := o.GetLoadBalancer(context.TODO(), "missing")
	require.Error(t, err)
	assert.True(t, cpoerrors.IsNotFound(err))
}

func TestGetLoadBalancer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/lbaas/loadbalancers/lb-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"loadbalancer": {
			"id": "lb-1", "name": "ns/svc", "vip_address": "10.0.0.5", "vip_subnet_id": "s1",
			"vip_port_id": "port-1", "provider": "amphora", "provisioning_status": "PENDING_UPDATE"
		}}`)
	})

	o := NewOctavia(newTestServiceClient(t, mux), "RegionOne", "")
	lb, err := o.GetLoadBalancer(context.TODO(), "lb-1")
	require.NoError(t, err)
	assert.Equal(t, &model.LoadBalancer{
		ID:                 "lb-1",
		Name:               "ns/svc",
		IP:                 "10.0.0.5",
		SubnetID:           "s1",
		PortID:             "port-1",
		Provider:           "amphora",
		ProvisioningStatus: "PENDING_UPDATE",
	}, lb)
}
