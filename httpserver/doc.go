/*
Package httpserver exposes the registrar client over HTTP.

It serves read-only name lookups backed by the registrar views, and a small
claims API that drives the registration orchestrator in the background.

# API Endpoints

  - GET /api/names/{name}?duration=N - Resolved status; with duration, also the price
  - GET /api/claims - Intents still in flight
  - POST /api/claims - Start a claim; body {"name":"...","owner":"0x...","duration":N}
  - GET /api/claims/{id} - Current view of one intent
  - DELETE /api/claims/{id} - Cancel an intent

# Health Endpoints

  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Mark server as not ready
  - GET /undrain - Mark server as ready
  - /debug/* - pprof, when enabled

# Errors

Failures are returned as {"error": "..."} with a status derived from the
client's error types:

  - ValidationError: 400
  - ConcurrencyConflict, TimingViolation, finished intent: 409
  - unknown intent: 404
  - QueryError: 502
  - anything else: 500

Claims are started with POST and complete asynchronously. Poll GET
/api/claims/{id} until the phase is "succeeded" or "failed". The secret and
salt of an intent never leave the process.
*/
package httpserver
