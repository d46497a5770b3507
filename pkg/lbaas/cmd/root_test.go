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

package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas/topology"
)

func TestLoadOptionsFromEnv(t *testing.T) {
	t.Setenv("KURYR_LBAAS_CLOUD_CONFIG", "/etc/openstack/cloud.conf")
	t.Setenv("KURYR_LBAAS_CONCURRENCY", "8")
	t.Setenv("KURYR_LBAAS_TIMEOUT", "90s")
	t.Setenv("KURYR_LBAAS_DEBUG", "true")

	var o Options
	require.NoError(t, loadOptions(viper.New(), "", &o))
	assert.Equal(t, Options{
		CloudConfig: "/etc/openstack/cloud.conf",
		Concurrency: 8,
		Timeout:     90 * time.Second,
		Debug:       true,
	}, o)
}

func TestLoadOptionsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kuryr-lbaas.yaml")
	content := "cloud-config: ~/cloud.conf\nconcurrency: 2\nmetrics-address: \":9090\"\ntimeout: 5m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("KURYR_LBAAS_CONCURRENCY", "3")

	var o Options
	require.NoError(t, loadOptions(viper.New(), path, &o))
	assert.Equal(t, 3, o.Concurrency)
	assert.Equal(t, ":9090", o.MetricsAddress)
	assert.Equal(t, 5*time.Minute, o.Timeout)
	assert.False(t, strings.HasPrefix(o.CloudConfig, "~"))
	assert.True(t, strings.HasSuffix(o.CloudConfig, "/cloud.conf"))
}

func TestLoadOptionsErrors(t *testing.T) {
	v := viper.New()
	v.Set("concurrency", 0)
	var o Options
	assert.Error(t, loadOptions(v, "", &o))

	assert.Error(t, loadOptions(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"), &o))
}

func topo(name string) *topology.Topology {
	return &topology.Topology{Namespace: "default", Service: name, SubnetID: "subnet"}
}

func TestForEachTopology(t *testing.T) {
	topologies := []*topology.Topology{topo("a"), topo("b"), topo("c"), topo("d")}

	var (
		mu      sync.Mutex
		seen    []string
		running atomic.Int32
		peak    atomic.Int32
	)
	err := forEachTopology(context.TODO(), topologies, 2, func(_ context.Context, tp *topology.Topology) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		seen = append(seen, tp.Service)
		mu.Unlock()
		if tp.Service == "b" {
			return errors.New("boom")
		}
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "default/b: boom")
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, seen)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestReadTopologies(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("namespace: default\nservice: web\nsubnetID: subnet\n"), 0o600))

	topologies, err := readTopologies([]string{good})
	require.NoError(t, err)
	require.Len(t, topologies, 1)
	assert.Equal(t, "web", topologies[0].Service)

	_, err = readTopologies([]string{good, filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}
