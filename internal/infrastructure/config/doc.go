// Package config handles loading and validating the mfcd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with MFCD_* environment variables
//   - Validation of required fields, collecting every problem at once
//   - Default value handling
//
// Credentials (MQTT password, InfluxDB token) should be set via environment
// variables rather than committed in the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Transport.Mode)
package config
