// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates the service configuration from a TOML
// file and environment variables. See Config for the full option surface.
package config
