// Package config loads the server-side configuration from the `server:` section
// of server.yaml.
//
// Config fields:
//   - HTTPPort       - port for the REST API, /metrics and WebSocket hub (default 8080)
//   - LogLevel       - debug | info | warn | error (default info)
//   - Auth.Mode      - "apikey" or "none"
//   - Auth.KeyEnv    - environment variable holding the expected API key
//   - Auth.Header    - HTTP header name (default "x-api-key")
//   - Store.TTL      - how long a line stays live without updates (0 = forever)
//   - Broadcast      - WebSocket snapshot interval (default 5s)
//   - Defaults       - KPI configuration for lines nobody configured
//   - Lines          - KPI configurations seeded at startup
//   - Alerts         - threshold rules and webhook targets
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
