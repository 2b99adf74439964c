package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// hclFile mirrors the JSON keys. Pointers distinguish "unset" from zero.
type hclFile struct {
	ListenAddress            *string           `hcl:"listen-address,optional"`
	SelfHost                 *string           `hcl:"self-host,optional"`
	ProxyID                  *string           `hcl:"proxy-id,optional"`
	TimeoutSeconds           *int              `hcl:"timeout-seconds,optional"`
	MaxObjectSize            *int64            `hcl:"max-object-size,optional"`
	MaxCacheSize             *int64            `hcl:"max-cache-size,optional"`
	MaxConcurrentConnections *int              `hcl:"max-concurrent-connections,optional"`
	Blocklist                *[]string         `hcl:"blocklist,optional"`
	UpstreamSOCKS5           *string           `hcl:"upstream-socks5,optional"`
	AccessLog                *string           `hcl:"access-log,optional"`
	DNS                      *DNSConfig        `hcl:"dns,block"`
	Statistics               *StatisticsConfig `hcl:"statistics,block"`
}

// envFunction exposes env("NAME") to HCL files. Unset variables are an error,
// matching the {"_secret": ...} form of the JSON loader.
var envFunction = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "name", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		name := args[0].AsString()
		value, ok := os.LookupEnv(name)
		if !ok || value == "" {
			return cty.NilVal, fmt.Errorf("secret %s not set", name)
		}
		return cty.StringVal(value), nil
	},
})

func loadHCLConfig(configPath string, cfg *Config) error {
	cleanPath, err := cleanConfigPath(configPath)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}

	evalCtx := &hcl.EvalContext{
		Functions: map[string]function.Function{
			"env": envFunction,
		},
	}

	var file hclFile
	if err := hclsimple.Decode(cleanPath, src, evalCtx, &file); err != nil {
		return fmt.Errorf("failed to decode HCL config: %w", err)
	}

	assign(&cfg.ListenAddress, file.ListenAddress)
	assign(&cfg.SelfHost, file.SelfHost)
	assign(&cfg.ProxyID, file.ProxyID)
	assign(&cfg.TimeoutSeconds, file.TimeoutSeconds)
	assign(&cfg.MaxObjectSize, file.MaxObjectSize)
	assign(&cfg.MaxCacheSize, file.MaxCacheSize)
	assign(&cfg.MaxConcurrentConnections, file.MaxConcurrentConnections)
	assign(&cfg.Blocklist, file.Blocklist)
	assign(&cfg.UpstreamSOCKS5, file.UpstreamSOCKS5)
	assign(&cfg.AccessLog, file.AccessLog)

	if file.DNS != nil {
		dns := *file.DNS
		for i := range dns.Servers {
			if dns.Servers[i].Type == "" {
				dns.Servers[i].Type = DNSTypeUDP
			}
		}
		if len(dns.Servers) == 0 {
			dns.Servers = cfg.DNS.Servers
		}
		cfg.DNS = dns
	}
	if file.Statistics != nil {
		cfg.Statistics = *file.Statistics
	}
	return nil
}

func assign[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
