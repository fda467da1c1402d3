// Package config loads the YAML configuration of the Takion client.
//
// A file only needs to name what differs from Default:
//
//	takion:
//	  host: 192.168.1.20
//	  protocol_version: 12
//	crypto:
//	  handshake_key: 54654c345cac56b8eae6152ade1ce2e8
//	  ecdh_secret: 0034f821c7d9dea9e911ca5ad67d11ce4f02b1ce1ee7c38d5439fa64e3dbd80d
//
// Load validates the merged result. Every section has its own Validate so
// errors name the offending section.
package config
