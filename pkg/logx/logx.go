// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package logx configures the diagnostic logger. Diagnostics never go to
// stdout: that stream is reserved for JSON-RPC traffic.
package logx

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Tag prefixes every diagnostic line.
const Tag = "[Proxy]"

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// ParseLevel accepts zerolog level names plus the aliases "all", "none" and
// "warning". An empty level means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch normalized := strings.ToLower(strings.TrimSpace(level)); normalized {
	case "":
		return zerolog.InfoLevel, nil
	case "all":
		return zerolog.TraceLevel, nil
	case "none", "off":
		return zerolog.Disabled, nil
	case "warning":
		return zerolog.WarnLevel, nil
	default:
		lvl, err := zerolog.ParseLevel(normalized)
		if err != nil || lvl == zerolog.NoLevel {
			return zerolog.NoLevel, fmt.Errorf("invalid log level %q", level)
		}
		return lvl, nil
	}
}

// Configure installs the global logger writing to w and returns it.
func Configure(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(lvl)

	var logger zerolog.Logger
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatConsole:
		logger = zerolog.New(ConsoleWriter(w)).With().Timestamp().Logger()
	case FormatJSON:
		logger = zerolog.New(w).With().Timestamp().Str("tag", Tag).Logger()
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}

	log.Logger = logger
	return logger, nil
}

// ConsoleWriter renders human-readable lines prefixed with Tag.
func ConsoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: time.RFC3339,
		FormatMessage: func(i interface{}) string {
			if i == nil {
				return Tag
			}
			return fmt.Sprintf("%s %v", Tag, i)
		},
	}
}
