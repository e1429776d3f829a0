// Package config handles loading and validating Gray Logic Hub configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRAYHUB_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret signs both user and device tokens and has no default
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Hub.QueueCapacity)
package config
