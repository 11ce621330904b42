// Package alpnfix relaxes grpc-go's ALPN enforcement, so the health command can
// reach servers behind TLS proxies that do not negotiate h2.
// Import it with the blank identifier before any grpc import.
// An explicit GRPC_ENFORCE_ALPN_ENABLED in the environment is left untouched.
package alpnfix

import "os"

const envVar = "GRPC_ENFORCE_ALPN_ENABLED"

func init() {
	if _, set := os.LookupEnv(envVar); !set {
		_ = os.Setenv(envVar, "false")
	}
}
