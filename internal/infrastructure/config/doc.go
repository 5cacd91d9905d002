// Package config handles loading and validating gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker and server passwords should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Paths:
//
// The tag map and the certificate paths inside the OPC UA security
// descriptor may be relative. They resolve against the directory that
// holds the config file (Config.BaseDir), not the working directory.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.OPCUA.Endpoint)
package config
