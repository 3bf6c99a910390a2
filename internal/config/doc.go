// Package config loads the orchestrator's YAML configuration.
//
// Configuration covers the admin HTTP server, the session database, the
// command channel, the supervised agent process (command, environment, timing
// budgets, restart policy), the health monitor tick, admin auth, and logging.
//
// ${VAR_NAME} references in the file are expanded from the environment before
// parsing, and duration fields are written as Go duration strings ("30s",
// "5m"). Every timing knob has a bounded default; there is no unbounded wait
// anywhere in the system.
package config
