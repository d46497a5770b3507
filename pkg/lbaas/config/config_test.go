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

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigDefaults(t *testing.T) {
	cfg, err := ReadConfig(strings.NewReader(`
[Global]
auth-url = http://keystone:5000/v3
username = admin
region = RegionOne
`))
	require.NoError(t, err)

	assert.Equal(t, "http://keystone:5000/v3", cfg.Global.AuthURL)
	assert.Equal(t, "admin", cfg.AuthOpts().Username)
	assert.Equal(t, "RegionOne", cfg.Global.Region)
	assert.Equal(t, "ROUND_ROBIN", cfg.LoadBalancer.LBAlgorithm)
	assert.Equal(t, SGModeUpdate, cfg.LoadBalancer.SGMode)
	assert.True(t, cfg.LoadBalancer.EnforceSGRules)
	assert.Equal(t, "amphora", cfg.LoadBalancer.LBProvider)
	assert.Equal(t, 300*time.Second, cfg.LoadBalancer.ActivationTimeout.Duration)
	assert.Empty(t, cfg.LoadBalancer.ResourceTags)
}

func TestReadConfigLoadBalancer(t *testing.T) {
	cfg, err := ReadConfig(strings.NewReader(`
[LoadBalancer]
resource-tags = cluster-a
resource-tags = kuryr
lb-algorithm = SOURCE_IP_PORT
sg-mode = create
enforce-sg-rules = false
lb-provider = ovn
activation-timeout = 90s
pod-security-groups = default-sg
`))
	require.NoError(t, err)

	lb := cfg.LoadBalancer
	assert.Equal(t, []string{"cluster-a", "kuryr"}, lb.ResourceTags)
	assert.Equal(t, "SOURCE_IP_PORT", lb.LBAlgorithm)
	assert.Equal(t, SGModeCreate, lb.SGMode)
	assert.False(t, lb.EnforceSGRules)
	assert.Equal(t, ProviderOVN, lb.LBProvider)
	assert.Equal(t, 90*time.Second, lb.ActivationTimeout.Duration)
	assert.Equal(t, []string{"default-sg"}, lb.PodSecurityGroups)
}

func TestReadConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{
			name:   "bad duration",
			config: "[LoadBalancer]\nactivation-timeout = soon\n",
		},
		{
			name:   "zero timeout",
			config: "[LoadBalancer]\nactivation-timeout = 0s\n",
		},
		{
			name:   "unknown algorithm",
			config: "[LoadBalancer]\nlb-algorithm = RANDOM\n",
		},
		{
			name:   "unknown sg mode",
			config: "[LoadBalancer]\nsg-mode = delete\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadConfig(strings.NewReader(tt.config))
			assert.Error(t, err)
		})
	}
}

func TestReadConfigNil(t *testing.T) {
	_, err := ReadConfig(nil)
	assert.Error(t, err)
}
