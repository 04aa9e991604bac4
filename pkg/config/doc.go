// Package config loads the client configuration.
//
// A YAML file (JSON is accepted as well) is read over the defaults and
// then overridden from the environment:
//
//	LG_COORDINATOR            coordinator address (host:port)
//	LG_HOSTNAME, LG_USERNAME  acquirer name parts
//	LG_PLACE, LG_ENV          initial place and environment file
//	LGSYNC_TRANSPORT          grpc or framed
//	LGSYNC_TLS_*              TLS settings
//
// Example file:
//
//	coordinator_address: coordinator.lab:20408
//	transport: grpc
//	connect_timeout: 10s
//	tls:
//	  enabled: true
//	  ca_file: /etc/labgrid/ca.pem
package config
