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
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/gcfg.v1"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/openstack/kuryr-lbaas/pkg/client"
	"github.com/openstack/kuryr-lbaas/pkg/util"
)

const (
	// SGModeCreate makes the driver create a dedicated security group per load balancer.
	SGModeCreate = "create"
	// SGModeUpdate makes the driver reuse the security group of the VIP port.
	SGModeUpdate = "update"

	// ProviderOVN is the Octavia OVN provider, which has no double listener support.
	ProviderOVN = "ovn"

	defaultLBAlgorithm       = "ROUND_ROBIN"
	defaultProvider          = "amphora"
	defaultActivationTimeout = 300 * time.Second
)

var lbAlgorithms = sets.New("ROUND_ROBIN", "LEAST_CONNECTIONS", "SOURCE_IP", "SOURCE_IP_PORT")

// LoadBalancerOpts is the [LoadBalancer] section of the cloud config.
type LoadBalancerOpts struct {
	ResourceTags      []string        `gcfg:"resource-tags"`
	LBAlgorithm       string          `gcfg:"lb-algorithm"` // default to ROUND_ROBIN.
	SGMode            string          `gcfg:"sg-mode"`      // create or update, default to update.
	EnforceSGRules    bool            `gcfg:"enforce-sg-rules"`
	LBProvider        string          `gcfg:"lb-provider"`
	ActivationTimeout util.MyDuration `gcfg:"activation-timeout"`
	PodSecurityGroups []string        `gcfg:"pod-security-groups"` // groups of pods not selected by any network policy
}

// Config is the cloud config file.
type Config struct {
	Global       client.AuthOpts
	LoadBalancer LoadBalancerOpts
}

// AuthOpts returns the authentication section.
func (c *Config) AuthOpts() *client.AuthOpts {
	return &c.Global
}

// Defaults returns a Config holding the default values.
func Defaults() Config {
	var cfg Config
	cfg.LoadBalancer.LBAlgorithm = defaultLBAlgorithm
	cfg.LoadBalancer.SGMode = SGModeUpdate
	cfg.LoadBalancer.EnforceSGRules = true
	cfg.LoadBalancer.LBProvider = defaultProvider
	cfg.LoadBalancer.ActivationTimeout = util.MyDuration{Duration: defaultActivationTimeout}
	return cfg
}

// ReadConfig reads the cloud config, fills the defaults and validates it.
func ReadConfig(config io.Reader) (Config, error) {
	if config == nil {
		return Config{}, fmt.Errorf("no cloud config file given")
	}
	cfg := Defaults()

	err := gcfg.FatalOnly(gcfg.ReadInto(&cfg, config))
	if err != nil {
		return Config{}, err
	}

	klog.V(5).Infof("Config, loaded from the config file:")
	client.LogCfg(cfg.Global)

	if cfg.Global.UseClouds {
		if cfg.Global.CloudsFile != "" {
			os.Setenv("OS_CLIENT_CONFIG_FILE", cfg.Global.CloudsFile)
		}
		err = client.ReadClouds(&cfg.Global)
		if err != nil {
			return Config{}, err
		}
		klog.V(5).Infof("Config, loaded from the %s:", cfg.Global.CloudsFile)
		client.LogCfg(cfg.Global)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadConfigFile opens path and reads it with ReadConfig.
func ReadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open cloud config %s: %w", path, err)
	}
	defer f.Close()
	return ReadConfig(f)
}

// Validate checks the [LoadBalancer] options.
func (c *Config) Validate() error {
	lb := c.LoadBalancer
	if lb.ActivationTimeout.Duration <= 0 {
		return fmt.Errorf("activation-timeout must be positive, got %s", lb.ActivationTimeout.Duration)
	}
	if !lbAlgorithms.Has(lb.LBAlgorithm) {
		return fmt.Errorf("unsupported lb-algorithm %q, must be one of %v", lb.LBAlgorithm, sets.List(lbAlgorithms))
	}
	if lb.SGMode != SGModeCreate && lb.SGMode != SGModeUpdate {
		return fmt.Errorf("unsupported sg-mode %q, must be %q or %q", lb.SGMode, SGModeCreate, SGModeUpdate)
	}
	return nil
}
