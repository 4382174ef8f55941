// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config loads the gateway's configuration: the HTTP/metrics
listener, the list of LLM providers to route across, routing behavior,
health-check tuning, logging, and telemetry.

# Core types

  - Config: top-level aggregate (Server, Providers, Router, Health, Log,
    Telemetry)
  - Loader: builder-style loader chaining a YAML path, an env var prefix,
    and an optional validation hook

# Loading order

Defaults, then an optional YAML file, then environment variables
(LLMGATEWAY_ prefix by default) — each source overrides the last.

# Example

	cfg, err := config.NewLoader().
		WithConfigPath("config.yaml").
		WithEnvPrefix("LLMGATEWAY").
		Load()
*/
package config
