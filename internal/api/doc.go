// Package api serves the administrative HTTP surface of the orchestrator.
//
// Routes:
//
//	GET  /health              liveness probe, always unauthenticated
//	GET  /api/status          agent lifecycle + session slot snapshot
//	POST /api/agent/start     launch the agent process
//	POST /api/agent/stop      force-stop, failing any bound session
//	POST /api/agent/restart   stop then start
//	POST /api/assign          bind a session to the agent (async, 202)
//	POST /api/end             request a session end (idempotent, 202)
//	GET  /api/sessions        list sessions
//	POST /api/sessions        create a session
//	GET  /api/sessions/{id}   fetch one session
//
// When an admin secret is configured, /api routes require a bearer JWT.
// Orchestration errors map to typed status codes: a busy slot is 409, an
// agent in the fatal lifecycle is 503, an unknown session is 404.
package api
