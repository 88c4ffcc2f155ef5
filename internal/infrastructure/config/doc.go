// Package config loads config.yaml.
//
// Values start from defaults suited to a Raspberry Pi with an MFRC522
// reader, are overlaid by the YAML file, then by TAGBOX_* environment
// variables. Keep the MQTT password and InfluxDB token in the environment
// and the file at 0600.
//
//	cfg, err := config.Load("configs/config.yaml")
package config
