// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind pskctl.
//
// [Command] is a named node with an optional [pflag.FlagSet] factory,
// nested subcommands and a Run function. [Command.Execute] parses flags,
// routes to subcommands and prints structured help. Unknown commands and
// flags get a "did you mean" hint when a known name is within edit
// distance 3.
package cli
