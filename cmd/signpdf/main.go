// Command signpdf signs and verifies PDF documents prepared with a
// ByteRange and Contents placeholder.
//
// Usage:
//
//	signpdf <command> [flags] <args>
//
// Commands:
//
//	sign     Sign a prepared PDF
//	verify   Verify the signature of a signed PDF
//	version  Show version information
//
// Examples:
//
//	signpdf sign --p12 signer.p12 --passphrase secret input.pdf output.pdf
//	signpdf verify --json output.pdf
package main

import (
	"errors"
	"os"

	"github.com/georgepadayatti/signpdf/cli"
	"github.com/sirupsen/logrus"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/signpdf
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	rootCmd := cli.NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, cli.ErrNotVerified) {
			logrus.Error(err)
		}
		os.Exit(1)
	}
}
