// Copyright 2026 YChaos Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config manages YChaos's configuration lifecycle: multi-source
loading, runtime hot reload, and change auditing. Configuration merges
in the order "defaults -> YAML file -> environment variables".

# Core types

  - Config: top-level aggregate covering Server, Engine, Redis,
    Database, Secrets, Log, Telemetry.
  - Loader: builder-pattern loader for the config path, env prefix,
    and custom validators.
  - HotReloadManager: watches the config file, applies field-level
    updates, and keeps a versioned change log.
  - FileWatcher: polling + debounce based file change notifier that
    drives HotReloadManager's automatic reloads.

# Capabilities

  - Multi-source load: YAML file, environment variables (YCHAOS_
    prefix by default), defaults.
  - Hot reload: file-watch triggered automatic reload, plus
    UpdateField for programmatic field-level changes.
  - Sensitive field redaction via SanitizedConfig.
  - Change history: ring-buffer change log with timestamps and source.

# Example

	cfg, err := config.NewLoader().
	    WithConfigPath("ychaos.yaml").
	    WithEnvPrefix("YCHAOS").
	    Load()
*/
package config
