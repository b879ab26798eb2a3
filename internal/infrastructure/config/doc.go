// Package config handles loading and validating wpand configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with WPAND_* environment variables
//   - Validation of every section, reporting all failures at once
//
// Security Considerations:
//   - Broker credentials and the InfluxDB token should come from the environment
//   - The HTTP API has no authentication and binds to loopback by default
//
// Usage:
//
//	cfg, err := config.Load("/etc/wpand/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.WPAN.Desired.Channel)
package config
