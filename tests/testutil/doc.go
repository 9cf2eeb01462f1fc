// Package testutil holds helpers shared by unit and integration tests: log
// capture, environment and config file setup, and access to a real MySQL
// server for integration runs.
package testutil
