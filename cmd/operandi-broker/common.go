package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/subugoe/operandi-go/pkg/hpc/connector"
	"github.com/subugoe/operandi-go/pkg/log"
)

// These operational settings sit outside the required-at-boot set
// (OPERANDI_HPC_USERNAME and friends): they have defaults and a
// missing value is not a startup error.
const (
	envProxyHosts    = "OPERANDI_HPC_PROXY_HOSTS"
	envFrontEndHosts = "OPERANDI_HPC_FRONTEND_HOSTS"
	envScratchRoot   = "OPERANDI_HPC_SCRATCH_ROOT"
)

func splitHosts(raw string) []string {
	var out []string
	for _, h := range strings.Split(raw, ",") {
		h = strings.TrimSpace(h)
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// connectorConfig builds an HPC Connector config from the required
// cluster-identity variables plus the optional host-list/scratch-root
// overrides above.
func connectorConfig(username, projectUsername, projectName, keyPath, keyPass string) connector.Config {
	return connector.Config{
		ProxyHosts:    splitHosts(getenvDefault(envProxyHosts, "hpc-proxy.gwdg.de")),
		FrontEndHosts: splitHosts(getenvDefault(envFrontEndHosts, "glogin.hlrn.de")),
		Username:        username,
		ProjectUsername: projectUsername,
		KeyPath:         keyPath,
		KeyPass:         keyPass,
		ProjectName:     projectName,
		ScratchRoot:     getenvDefault(envScratchRoot, "/scratch"),
		Log:             log.WithComponent("hpc_connector"),
	}
}

func logger(component string) zerolog.Logger {
	return log.WithComponent(component)
}
