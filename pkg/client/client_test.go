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

package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cloudsYAML = `
clouds:
  kuryr:
    auth:
      auth_url: https://keystone.example.com/v3
      username: kuryr
      password: secret
      project_name: k8s
      user_domain_name: Default
    region_name: RegionTwo
    interface: internal
`

func TestEndpointOpts(t *testing.T) {
	opts := AuthOpts{Region: "RegionOne", EndpointType: gophercloud.AvailabilityInternal}

	eo := opts.EndpointOpts()

	assert.Equal(t, "RegionOne", eo.Region)
	assert.Equal(t, gophercloud.AvailabilityInternal, eo.Availability)
}

func TestReadClouds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clouds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cloudsYAML), 0600))
	t.Setenv("OS_CLIENT_CONFIG_FILE", path)

	opts := AuthOpts{Cloud: "kuryr", Username: "override"}
	require.NoError(t, ReadClouds(&opts))

	assert.Equal(t, "https://keystone.example.com/v3", opts.AuthURL)
	assert.Equal(t, "override", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, "k8s", opts.TenantName)
	assert.Equal(t, "Default", opts.UserDomainName)
	assert.Equal(t, "RegionTwo", opts.Region)
}

func TestReplaceEmpty(t *testing.T) {
	assert.Equal(t, "a", replaceEmpty("a", "b"))
	assert.Equal(t, "b", replaceEmpty("", "b"))
}
