//go:build mage

package main

import (
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var Default = Build

// Build compiles the relay daemon into ./bin.
func Build() error {
	mg.Deps(Test)

	if r := os.MkdirAll("bin", 0755); r != nil {
		return r
	}
	return sh.RunV("go", "build", "-o", "bin/relayd", "./cmd/relayd")
}

// Test runs all tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// Lint runs go vet and, when installed, golangci-lint.
func Lint() error {
	if r := sh.RunV("go", "vet", "./..."); r != nil {
		return r
	}
	if _, err := sh.Exec(nil, nil, nil, "golangci-lint", "--version"); err != nil {
		return nil
	}
	return sh.RunV("golangci-lint", "run", "./...")
}

// Run starts the relay against the example config with an embedded broker.
func Run() error {
	return sh.RunWithV(map[string]string{
		"RELAY_BROKER_EMBEDDED_ENABLED": "true",
	}, "go", "run", "./cmd/relayd", "-config", "config/relay.yaml")
}
