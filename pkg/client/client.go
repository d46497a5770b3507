/*
Copyright 2014 The Kubernetes Authors.

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
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/utils/v2/client"
	"github.com/gophercloud/utils/v2/openstack/clientconfig"
	"k8s.io/apimachinery/pkg/util/net"
	"k8s.io/client-go/util/cert"
	"k8s.io/klog/v2"

	"github.com/openstack/kuryr-lbaas/pkg/version"
)

type AuthOpts struct {
	AuthURL          string                   `gcfg:"auth-url" mapstructure:"auth-url"`
	UserID           string                   `gcfg:"user-id" mapstructure:"user-id"`
	Username         string                   `gcfg:"username" mapstructure:"username"`
	Password         string                   `gcfg:"password" mapstructure:"password"`
	TenantID         string                   `gcfg:"tenant-id" mapstructure:"project-id"`
	TenantName       string                   `gcfg:"tenant-name" mapstructure:"project-name"`
	DomainID         string                   `gcfg:"domain-id" mapstructure:"domain-id"`
	DomainName       string                   `gcfg:"domain-name" mapstructure:"domain-name"`
	TenantDomainID   string                   `gcfg:"tenant-domain-id" mapstructure:"project-domain-id"`
	TenantDomainName string                   `gcfg:"tenant-domain-name" mapstructure:"project-domain-name"`
	UserDomainID     string                   `gcfg:"user-domain-id" mapstructure:"user-domain-id"`
	UserDomainName   string                   `gcfg:"user-domain-name" mapstructure:"user-domain-name"`
	Region           string                   `gcfg:"region" mapstructure:"region"`
	EndpointType     gophercloud.Availability `gcfg:"os-endpoint-type" mapstructure:"os-endpoint-type"`
	CAFile           string                   `gcfg:"ca-file" mapstructure:"ca-file"`
	TLSInsecure      string                   `gcfg:"tls-insecure" mapstructure:"tls-insecure"`

	// TLS client auth
	CertFile string `gcfg:"cert-file" mapstructure:"cert-file"`
	KeyFile  string `gcfg:"key-file" mapstructure:"key-file"`

	UseClouds  bool   `gcfg:"use-clouds" mapstructure:"use-clouds"`
	CloudsFile string `gcfg:"clouds-file,omitempty" mapstructure:"clouds-file,omitempty"`
	Cloud      string `gcfg:"cloud,omitempty" mapstructure:"cloud,omitempty"`

	ApplicationCredentialID     string `gcfg:"application-credential-id" mapstructure:"application-credential-id"`
	ApplicationCredentialName   string `gcfg:"application-credential-name" mapstructure:"application-credential-name"`
	ApplicationCredentialSecret string `gcfg:"application-credential-secret" mapstructure:"application-credential-secret"`
}

func LogCfg(authOpts AuthOpts) {
	klog.V(5).Infof("AuthURL: %s", authOpts.AuthURL)
	klog.V(5).Infof("UserID: %s", authOpts.UserID)
	klog.V(5).Infof("Username: %s", authOpts.Username)
	klog.V(5).Infof("TenantID: %s", authOpts.TenantID)
	klog.V(5).Infof("TenantName: %s", authOpts.TenantName)
	klog.V(5).Infof("DomainID: %s", authOpts.DomainID)
	klog.V(5).Infof("DomainName: %s", authOpts.DomainName)
	klog.V(5).Infof("Region: %s", authOpts.Region)
	klog.V(5).Infof("EndpointType: %s", authOpts.EndpointType)
	klog.V(5).Infof("CAFile: %s", authOpts.CAFile)
	klog.V(5).Infof("UseClouds: %t", authOpts.UseClouds)
	klog.V(5).Infof("Cloud: %s", authOpts.Cloud)
	klog.V(5).Infof("ApplicationCredentialID: %s", authOpts.ApplicationCredentialID)
}

// Logger forwards gophercloud request dumps to klog at verbosity 6.
type Logger struct{}

func (l Logger) Printf(format string, args ...interface{}) {
	if !klog.V(6).Enabled() {
		return
	}

	var skip int
	var found bool
	var gc = "/github.com/gophercloud/gophercloud"

	// detect the depth of the actual function, which calls gophercloud code
	for i := 10; i <= 20; i++ {
		if _, file, _, ok := runtime.Caller(i); ok && !found && strings.Contains(file, gc) {
			found = true
			continue
		} else if ok && found && !strings.Contains(file, gc) {
			skip = i
			break
		} else if !ok {
			break
		}
	}

	for _, v := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		klog.InfoDepth(skip, v)
	}
}

func (authOpts AuthOpts) ToAuthOptions() gophercloud.AuthOptions {
	opts := clientconfig.ClientOpts{
		// this is needed to disable the clientconfig.AuthOptions func env detection
		EnvPrefix: "_",
		Cloud:     authOpts.Cloud,
		AuthInfo: &clientconfig.AuthInfo{
			AuthURL:                     authOpts.AuthURL,
			UserID:                      authOpts.UserID,
			Username:                    authOpts.Username,
			Password:                    authOpts.Password,
			ProjectID:                   authOpts.TenantID,
			ProjectName:                 authOpts.TenantName,
			DomainID:                    authOpts.DomainID,
			DomainName:                  authOpts.DomainName,
			ProjectDomainID:             authOpts.TenantDomainID,
			ProjectDomainName:           authOpts.TenantDomainName,
			UserDomainID:                authOpts.UserDomainID,
			UserDomainName:              authOpts.UserDomainName,
			ApplicationCredentialID:     authOpts.ApplicationCredentialID,
			ApplicationCredentialName:   authOpts.ApplicationCredentialName,
			ApplicationCredentialSecret: authOpts.ApplicationCredentialSecret,
		},
	}

	ao, err := clientconfig.AuthOptions(&opts)
	if err != nil {
		klog.V(1).Infof("Error parsing auth: %s", err)
		return gophercloud.AuthOptions{}
	}

	// Persistent service, so we need to be able to renew tokens.
	ao.AllowReauth = true

	return *ao
}

// EndpointOpts returns the endpoint selection for service clients.
func (authOpts AuthOpts) EndpointOpts() gophercloud.EndpointOpts {
	return gophercloud.EndpointOpts{
		Region:       authOpts.Region,
		Availability: authOpts.EndpointType,
	}
}

func replaceEmpty(a string, b string) string {
	if a == "" {
		return b
	}
	return a
}

// ReadClouds reads clouds.yaml and fills the fields left empty in authOpts.
func ReadClouds(authOpts *AuthOpts) error {
	co := new(clientconfig.ClientOpts)
	if authOpts.Cloud != "" {
		co.Cloud = authOpts.Cloud
	}
	cloud, err := clientconfig.GetCloudFromYAML(co)
	if err != nil {
		return err
	}

	authOpts.AuthURL = replaceEmpty(authOpts.AuthURL, cloud.AuthInfo.AuthURL)
	authOpts.UserID = replaceEmpty(authOpts.UserID, cloud.AuthInfo.UserID)
	authOpts.Username = replaceEmpty(authOpts.Username, cloud.AuthInfo.Username)
	authOpts.Password = replaceEmpty(authOpts.Password, cloud.AuthInfo.Password)
	authOpts.TenantID = replaceEmpty(authOpts.TenantID, cloud.AuthInfo.ProjectID)
	authOpts.TenantName = replaceEmpty(authOpts.TenantName, cloud.AuthInfo.ProjectName)
	authOpts.DomainID = replaceEmpty(authOpts.DomainID, cloud.AuthInfo.DomainID)
	authOpts.DomainName = replaceEmpty(authOpts.DomainName, cloud.AuthInfo.DomainName)
	authOpts.TenantDomainID = replaceEmpty(authOpts.TenantDomainID, cloud.AuthInfo.ProjectDomainID)
	authOpts.TenantDomainName = replaceEmpty(authOpts.TenantDomainName, cloud.AuthInfo.ProjectDomainName)
	authOpts.UserDomainID = replaceEmpty(authOpts.UserDomainID, cloud.AuthInfo.UserDomainID)
	authOpts.UserDomainName = replaceEmpty(authOpts.UserDomainName, cloud.AuthInfo.UserDomainName)
	authOpts.Region = replaceEmpty(authOpts.Region, cloud.RegionName)
	authOpts.EndpointType = gophercloud.Availability(replaceEmpty(string(authOpts.EndpointType), cloud.EndpointType))
	authOpts.CAFile = replaceEmpty(authOpts.CAFile, cloud.CACertFile)
	authOpts.CertFile = replaceEmpty(authOpts.CertFile, cloud.ClientCertFile)
	authOpts.KeyFile = replaceEmpty(authOpts.KeyFile, cloud.ClientKeyFile)
	authOpts.ApplicationCredentialID = replaceEmpty(authOpts.ApplicationCredentialID, cloud.AuthInfo.ApplicationCredentialID)
	authOpts.ApplicationCredentialName = replaceEmpty(authOpts.ApplicationCredentialName, cloud.AuthInfo.ApplicationCredentialName)
	authOpts.ApplicationCredentialSecret = replaceEmpty(authOpts.ApplicationCredentialSecret, cloud.AuthInfo.ApplicationCredentialSecret)

	return nil
}

// NewOpenStackClient creates a new instance of the openstack client
func NewOpenStackClient(ctx context.Context, cfg *AuthOpts, userAgent string, extraUserAgent ...string) (*gophercloud.ProviderClient, error) {
	provider, err := openstack.NewClient(cfg.AuthURL)
	if err != nil {
		return nil, err
	}

	ua := gophercloud.UserAgent{}
	ua.Prepend(fmt.Sprintf("%s/%s", userAgent, version.Version))
	for _, data := range extraUserAgent {
		ua.Prepend(data)
	}
	provider.UserAgent = ua
	klog.V(4).Infof("Using user-agent %s", ua.Join())

	var caPool *x509.CertPool
	if cfg.CAFile != "" {
		caPool, err = cert.NewPool(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read and parse %s certificate: %s", cfg.CAFile, err)
		}
	}

	config := &tls.Config{}
	config.InsecureSkipVerify = cfg.TLSInsecure == "true"

	if caPool != nil {
		config.RootCAs = caPool
	}

	// configure TLS client auth
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("error loading TLS key pair: %s", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	provider.HTTPClient.Transport = net.SetOldTransportDefaults(&http.Transport{TLSClientConfig: config})

	if klog.V(6).Enabled() {
		provider.HTTPClient.Transport = &client.RoundTripper{
			Rt:     provider.HTTPClient.Transport,
			Logger: &Logger{},
		}
	}

	err = openstack.Authenticate(ctx, provider, cfg.ToAuthOptions())

	return provider, err
}
