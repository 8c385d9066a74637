// Package config loads the gateway's process configuration from environment
// variables, failing fast with a single aggregated ConfigMissing error when
// required variables are absent.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/subugoe/operandi-go/pkg/types"
)

// Config holds every environment-sourced setting the gateway needs at boot.
type Config struct {
	HPCUsername        string
	HPCProjectUsername string
	HPCProjectName     string
	HPCSSHKeyPath      string
	HPCSSHKeyPass      string // optional

	RabbitMQURL string
	MongoDBURL  string

	AdminEmail        string
	AdminPassword     string
	HarvesterEmail    string
	HarvesterPassword string
}

const (
	envHPCUsername        = "OPERANDI_HPC_USERNAME"
	envHPCProjectUsername = "OPERANDI_HPC_PROJECT_USERNAME"
	envHPCProjectName     = "OPERANDI_HPC_PROJECT_NAME"
	envHPCSSHKeyPath      = "OPERANDI_HPC_SSH_KEYPATH"
	envHPCSSHKeyPass      = "OPERANDI_HPC_SSH_KEYPASS"
	envRabbitMQURL        = "OPERANDI_RABBITMQ_URL"
	envMongoDBURL         = "OPERANDI_MONGODB_URL"
	envAdminEmail         = "OPERANDI_ADMIN_EMAIL"
	envAdminPassword      = "OPERANDI_ADMIN_PASSWORD"
	envHarvesterEmail     = "OPERANDI_HARVESTER_EMAIL"
	envHarvesterPassword  = "OPERANDI_HARVESTER_PASSWORD"
)

// FromEnv loads a Config from the process environment. Every required
// variable is validated; the returned error wraps types.ErrConfigMissing
// and names every variable that was missing, not just the first one found.
func FromEnv() (*Config, error) {
	cfg := &Config{
		HPCUsername:        os.Getenv(envHPCUsername),
		HPCProjectUsername: os.Getenv(envHPCProjectUsername),
		HPCProjectName:     os.Getenv(envHPCProjectName),
		HPCSSHKeyPath:      os.Getenv(envHPCSSHKeyPath),
		HPCSSHKeyPass:      os.Getenv(envHPCSSHKeyPass),
		RabbitMQURL:        os.Getenv(envRabbitMQURL),
		MongoDBURL:         os.Getenv(envMongoDBURL),
		AdminEmail:         os.Getenv(envAdminEmail),
		AdminPassword:      os.Getenv(envAdminPassword),
		HarvesterEmail:     os.Getenv(envHarvesterEmail),
		HarvesterPassword:  os.Getenv(envHarvesterPassword),
	}

	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{envHPCUsername, cfg.HPCUsername},
		{envHPCProjectUsername, cfg.HPCProjectUsername},
		{envHPCProjectName, cfg.HPCProjectName},
		{envHPCSSHKeyPath, cfg.HPCSSHKeyPath},
		{envRabbitMQURL, cfg.RabbitMQURL},
		{envMongoDBURL, cfg.MongoDBURL},
		{envAdminEmail, cfg.AdminEmail},
		{envAdminPassword, cfg.AdminPassword},
		{envHarvesterEmail, cfg.HarvesterEmail},
		{envHarvesterPassword, cfg.HarvesterPassword},
	}
	for _, req := range required {
		if req.value == "" {
			missing = append(missing, req.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrConfigMissing, strings.Join(missing, ", "))
	}

	return cfg, nil
}
