// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// Flags holds command-line overrides. Only flags set explicitly on the
// command line replace values from the file or the environment.
type Flags struct {
	fs     *pflag.FlagSet
	file   string
	values Config
}

// RegisterFlags binds the bridge flags on fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	d := Defaults()

	fs.StringVar(&f.file, "config", "", "YAML config file (env "+EnvConfigFile+")")
	fs.StringVar(&f.values.ServerURL, "server-url", d.ServerURL, "base URL of the remote MCP server; /mcp is appended")
	fs.StringVar(&f.values.LogLevel, "log-level", d.LogLevel, "log verbosity (all, trace, debug, info, warn, error, none)")
	fs.StringVar(&f.values.LogFormat, "log-format", d.LogFormat, "stderr log format (console, json)")
	fs.DurationVar(&f.values.RequestTimeout, "request-timeout", d.RequestTimeout, "upstream request timeout (0 disables)")
	fs.DurationVar(&f.values.DrainTimeout, "drain-timeout", d.DrainTimeout, "time to wait for in-flight requests after stdin closes (0 to exit immediately)")
	fs.IntVar(&f.values.MaxInFlight, "max-in-flight", d.MaxInFlight, "maximum concurrent upstream requests (0 is unbounded)")
	fs.IntVar(&f.values.MaxLineSize, "max-line-size", d.MaxLineSize, "maximum size of one input line in bytes")
	fs.BoolVar(&f.values.InsecureSkipVerify, "insecure", d.InsecureSkipVerify, "skip upstream TLS certificate verification")
	fs.StringVar(&f.values.MetricsAddr, "metrics-addr", d.MetricsAddr, "address for /metrics and /healthz; empty disables")

	return f
}

// ConfigFile returns the YAML path from --config or the environment.
func (f *Flags) ConfigFile() string {
	if f.fs.Changed("config") {
		return f.file
	}
	return strings.TrimSpace(os.Getenv(EnvConfigFile))
}

// Apply copies explicitly set flags onto c.
func (f *Flags) Apply(c *Config) {
	set := func(name string, apply func()) {
		if f.fs.Changed(name) {
			apply()
		}
	}

	set("server-url", func() { c.ServerURL = strings.TrimSpace(f.values.ServerURL) })
	set("log-level", func() { c.LogLevel = strings.ToLower(strings.TrimSpace(f.values.LogLevel)) })
	set("log-format", func() { c.LogFormat = strings.ToLower(strings.TrimSpace(f.values.LogFormat)) })
	set("request-timeout", func() { c.RequestTimeout = f.values.RequestTimeout })
	set("drain-timeout", func() { c.DrainTimeout = f.values.DrainTimeout })
	set("max-in-flight", func() { c.MaxInFlight = f.values.MaxInFlight })
	set("max-line-size", func() { c.MaxLineSize = f.values.MaxLineSize })
	set("insecure", func() { c.InsecureSkipVerify = f.values.InsecureSkipVerify })
	set("metrics-addr", func() { c.MetricsAddr = strings.TrimSpace(f.values.MetricsAddr) })
}
