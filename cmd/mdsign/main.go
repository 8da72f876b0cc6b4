// Command mdsign signs and verifies text documents with signatures embedded
// in their YAML front matter.
//
// Usage:
//
//	mdsign <command> [options] <args>
//
// Commands:
//
//	sign     Add a signature to a document
//	verify   Verify the signatures of a document
//	serve    Serve the signing API over HTTP
//	version  Show version information
//
// Examples:
//
//	# Sign a document with a PEM key and certificate
//	mdsign sign --key signer.key --cert signer.crt notes.md notes.signed.md
//
//	# Verify a document
//	mdsign verify --truststore anchors.pem notes.signed.md
//
//	# Verify with JSON output
//	mdsign verify --json notes.signed.md
package main

import (
	"os"

	"github.com/georgepadayatti/mdsign/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/mdsign
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args)
}
