// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package cmd implements the acctl command tree. Every command resolves a
// profile from the config file and ACCTL_* variables, builds the SDK once
// and renders its result as a table, JSON or YAML.
package cmd
