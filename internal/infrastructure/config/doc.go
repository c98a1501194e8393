// Package config handles loading and validating purifier bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Device secrets and broker passwords should be set via environment
//     variables (PURIFIER_DEVICE_<ID>_SECRET, PURIFIER_MQTT_PASSWORD)
//   - The config file should have restricted permissions (0600)
//   - Config.Redacted masks secrets and device addresses for diagnostics
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range cfg.Devices {
//	    fmt.Println(d.ID, d.Host)
//	}
package config
