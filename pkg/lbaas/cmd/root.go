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
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"k8s.io/apiserver/pkg/server/healthz"
	"k8s.io/component-base/cli"

	"github.com/openstack/kuryr-lbaas/pkg/lbaas"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/config"
	"github.com/openstack/kuryr-lbaas/pkg/lbaas/openstack"
	"github.com/openstack/kuryr-lbaas/pkg/metrics"
	"github.com/openstack/kuryr-lbaas/pkg/version"
)

const (
	envPrefix = "KURYR_LBAAS"
	userAgent = "kuryr-lbaas"
)

// Options are the settings shared by all commands. They come from the flags,
// the KURYR_LBAAS_* environment variables and the optional --config file.
type Options struct {
	// CloudConfig is the path of the gcfg cloud config.
	CloudConfig string `mapstructure:"cloud-config"`
	// Concurrency bounds the topologies converged at once.
	Concurrency int `mapstructure:"concurrency"`
	// MetricsAddress serves /metrics and /healthz when set.
	MetricsAddress string `mapstructure:"metrics-address"`
	// Timeout bounds a whole command. Zero means no bound.
	Timeout time.Duration `mapstructure:"timeout"`
	Debug   bool          `mapstructure:"debug"`
}

var (
	cfgFile string
	opts    Options
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kuryr-lbaas",
	Short: "Converge Octavia load balancers",
	Long: `Converge Octavia load balancers, listeners, pools and members towards
the topologies described in YAML files, and mirror the security groups of
the pods onto the listeners.`,
	SilenceUsage: true,
	Version:      version.Version,
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	code := cli.Run(rootCmd)
	os.Exit(code)
}

func init() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{
		ForceColors:            term.IsTerminal(int(os.Stdout.Fd())),
		FullTimestamp:          true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})

	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "YAML file holding the options below, by their flag name")
	flags.String("cloud-config", "/etc/kuryr/cloud.conf", "Path of the OpenStack cloud config")
	flags.Int("concurrency", 4, "Maximum number of topologies converged at once")
	flags.String("metrics-address", "", "Address to serve Prometheus metrics on, e.g. :9090; disabled when empty")
	flags.Duration("timeout", 0, "Abort the command after this duration; 0 means never")
	flags.Bool("debug", false, "Print more detailed information.")
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(capabilitiesCmd, ensureCmd, releaseCmd, versionCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if err := loadOptions(viper.GetViper(), cfgFile, &opts); err != nil {
		log.WithFields(log.Fields{"error": err}).Fatal("Unable to decode the configuration")
	}
	if opts.Debug {
		log.SetLevel(log.DebugLevel)
	}
}

// loadOptions fills out from v, reading cfgFile first if set.
func loadOptions(v *viper.Viper, cfgFile string, out *Options) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		log.WithFields(log.Fields{"file": v.ConfigFileUsed()}).Info("Using config file")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	settings := map[string]interface{}{}
	for _, key := range []string{"cloud-config", "concurrency", "metrics-address", "timeout", "debug"} {
		settings[key] = v.Get(key)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(settings); err != nil {
		return err
	}

	path, err := homedir.Expand(out.CloudConfig)
	if err != nil {
		return err
	}
	out.CloudConfig = path
	if out.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", out.Concurrency)
	}
	return nil
}

// commandContext returns the context of a command run, bounded by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		return context.WithTimeout(ctx, opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// newDriver reads the cloud config, connects to OpenStack and probes the
// Octavia features. Failing to probe is fatal for the command.
func newDriver(ctx context.Context) (*lbaas.Driver, error) {
	cfg, err := config.ReadConfigFile(opts.CloudConfig)
	if err != nil {
		return nil, err
	}

	octavia, neutron, err := openstack.NewClients(ctx, cfg.AuthOpts(), userAgent)
	if err != nil {
		return nil, err
	}

	features, err := lbaas.DetectFeatures(ctx, octavia, cfg.Global.Region, cfg.LoadBalancer.LBProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to detect Octavia features: %w", err)
	}
	log.WithFields(log.Fields{"features": features.String()}).Debug("Detected Octavia features")

	return lbaas.NewDriver(octavia, neutron, cfg.LoadBalancer, features), nil
}

// serveMetrics starts the metrics endpoint when configured. The returned
// function stops it.
func serveMetrics(addr string) func() {
	if addr == "" {
		return func() {}
	}

	reg := prometheus.NewRegistry()
	metrics.RegisterMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	healthz.InstallHandler(mux, healthz.PingHealthz)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.WithFields(log.Fields{"address": addr}).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(log.Fields{"error": err}).Error("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
