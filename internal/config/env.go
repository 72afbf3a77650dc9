package config

import "strings"

// newEnvReplacer maps a dotted viper key ("sip.listen_port") to the
// environment variable suffix the spec requires ("SIP__LISTEN_PORT"),
// joined with the envPrefix by viper itself.
func newEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "__")
}
