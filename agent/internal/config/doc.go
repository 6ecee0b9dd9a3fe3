// Package config loads and watches the agent configuration file (agent.yaml).
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: server_endpoint, push_interval, buffer_size, log_level,
//     server_auth, lines []
//   - Line: id, data_file, format (minutes|clock|msgpack), kpi, counters
//   - CountersConfig: Prometheus endpoint, metric names and labels for the
//     line's output counters, with its own SourceAuth and TLS settings
//   - AuthConfig: mode (apikey|bearer|none), header, key_env, token_env;
//     Key() and Token() resolve from environment variables
//
// Load(path) reads the YAML file, applies defaults (30s push, 100 buffer,
// info logging), validates required fields, enums and every line's KPI
// configuration, then resolves data files and certificate paths relative to
// the config file.
//
// Watch(ctx, path, onChange) uses fsnotify to detect config changes and calls
// onChange with the newly parsed Config. WatchFiles(ctx, paths, onChange)
// reports writes to line data files. Both watch the parent directory so the
// rename/create pattern of atomic-save editors is seen.
package config
