// Package config handles loading and validating hub configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (BUSNEPHEW_*)
//   - Validation of required fields
//   - Default value handling
//
// Every optional integration (journal database, MQTT, InfluxDB, mDNS) is off
// by default, so the hub runs standalone with an empty config file.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - Operator API authentication is enabled by setting BUSNEPHEW_JWT_SECRET
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
