// Package config loads brokerwatch configuration.
//
// Load starts from Default, overlays the YAML file, then applies
// BROKERWATCH_* environment variables, and finally runs Validate, which
// reports every problem at once rather than the first.
//
// Credentials (BROKERWATCH_BROKER_PASSWORD, BROKERWATCH_PROBE_PASSWORD,
// BROKERWATCH_INFLUXDB_TOKEN) belong in the environment, not the file.
// Probe credentials fall back to the broker's; see Config.ProbeCredentials.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	user, pass := cfg.ProbeCredentials()
package config
