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
	"errors"
	"testing"

	version "github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/model"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/openstack"
)

func lbVersions(ids ...string) map[string]map[string][]string {
	return map[string]map[string][]string{
		"public": {loadBalancerServiceType: ids},
	}
}

func TestMaxVersion(t *testing.T) {
	tests := []struct {
		name     string
		data     model.VersionData
		region   string
		expected string
	}{
		{
			name:     "numeric not lexical maximum",
			data:     model.VersionData{"RegionOne": lbVersions("v2.0", "v2.12", "v2.9")},
			region:   "RegionOne",
			expected: "2.12",
		},
		{
			name: "first region when unset",
			data: model.VersionData{
				"RegionTwo": lbVersions("v2.5"),
				"RegionOne": lbVersions("v2.20"),
			},
			expected: "2.20",
		},
		{
			name: "first region when unknown",
			data: model.VersionData{
				"RegionTwo": lbVersions("v2.5"),
				"RegionOne": lbVersions("v2.20"),
			},
			region:   "RegionThree",
			expected: "2.20",
		},
		{
			name: "configured region",
			data: model.VersionData{
				"RegionTwo": lbVersions("v2.5"),
				"RegionOne": lbVersions("v2.20"),
			},
			region:   "RegionTwo",
			expected: "2.5",
		},
		{
			name: "first interface",
			data: model.VersionData{"RegionOne": {
				"public":   {loadBalancerServiceType: {"v2.3"}},
				"internal": {loadBalancerServiceType: {"v2.7"}},
			}},
			expected: "2.7",
		},
		{
			name: "first service when load-balancer is missing",
			data: model.VersionData{"RegionOne": {
				"public": {"octavia": {"v2.1", "v2.15"}},
			}},
			expected: "2.15",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := MaxVersion(tt.data, tt.region)
			require.NoError(t, err)
			assert.True(t, v.Equal(version.Must(version.NewVersion(tt.expected))), "got %s", v)
		})
	}
}

func TestMaxVersionMalformed(t *testing.T) {
	tests := []struct {
		name string
		data model.VersionData
	}{
		{name: "no region", data: model.VersionData{}},
		{name: "no interface", data: model.VersionData{"RegionOne": {}}},
		{name: "no service", data: model.VersionData{"RegionOne": {"public": {}}}},
		{name: "no version", data: model.VersionData{"RegionOne": lbVersions()}},
		{name: "bad version", data: model.VersionData{"RegionOne": lbVersions("v2.1", "latest")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MaxVersion(tt.data, "")
			assert.Error(t, err)
		})
	}
}

func TestFeaturesForVersion(t *testing.T) {
	tests := []struct {
		version  string
		provider string
		expected Features
	}{
		{version: "2.4", provider: "amphora", expected: Features{}},
		{version: "2.5", provider: "amphora", expected: Features{Tags: true}},
		{version: "2.11", provider: "amphora", expected: Features{Tags: true, DoubleListeners: true}},
		{version: "2.11", provider: "ovn", expected: Features{Tags: true}},
		{version: "2.12", provider: "amphora", expected: Features{Tags: true, DoubleListeners: true, ACLs: true}},
		{version: "2.24", provider: "ovn", expected: Features{Tags: true, ACLs: true}},
	}

	for _, tt := range tests {
		t.Run(tt.version+"/"+tt.provider, func(t *testing.T) {
			f := FeaturesForVersion(version.Must(version.NewVersion(tt.version)), tt.provider)
			f.Version = nil
			assert.Equal(t, tt.expected, f)
		})
	}
}

func TestDetectFeatures(t *testing.T) {
	cloud := openstack.NewFakeCloud()

	f, err := DetectFeatures(context.TODO(), cloud, "RegionOne", "amphora")
	require.NoError(t, err)
	assert.Equal(t, "2.24.0", f.Version.String())
	assert.True(t, f.Tags)
	assert.True(t, f.DoubleListeners)
	assert.True(t, f.ACLs)
	assert.Equal(t, 1, cloud.Calls("GetVersionData"))

	boom := errors.New("boom")
	cloud.InjectError("GetVersionData", boom)
	_, err = DetectFeatures(context.TODO(), cloud, "RegionOne", "amphora")
	assert.ErrorIs(t, err, boom)

	cloud.Versions = model.VersionData{"RegionOne": lbVersions("two")}
	_, err = DetectFeatures(context.TODO(), cloud, "RegionOne", "amphora")
	assert.Error(t, err)
}
