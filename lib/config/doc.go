// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the pskd daemon configuration.
//
// Configuration is loaded from a single file named by either the
// PSKD_CONFIG environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There is no discovery and no search path. Files ending in
// .json or .jsonc are read as JSON with comments; anything else is YAML.
//
// The file may carry a development or production section that overrides
// base values when [Config].Environment matches. Production defaults to
// JSON logs at info level.
//
// ${VAR} and ${VAR:-default} patterns are expanded in path fields after
// loading. No other environment variables override config values.
//
// Running without a file is valid: [Default] describes a daemon that
// listens on its control socket and waits for everything else to be
// supplied through it.
package config
