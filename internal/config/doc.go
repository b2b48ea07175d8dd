// Package config loads the merchant runtime configuration from a JSON
// file and fills in defaults for anything the operator leaves out. The
// file location is given on the command line or via the UCP_CONFIG
// environment variable.
package config
