package main

import (
	_ "github.com/manifest-network/blockledger/internal/alpnfix" // Relax ALPN enforcement for gRPC health checks behind TLS proxies

	"github.com/manifest-network/blockledger/cmd/blockledger"
)

func main() {
	blockledger.Execute()
}
