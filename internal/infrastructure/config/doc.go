// Package config handles loading and validating the ADMS server configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (ADMS_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
//     set via environment variables
//   - The operator API is unauthenticated unless security.jwt.secret is set
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Address())
package config
