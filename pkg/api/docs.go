// Package api provides the operator status and health HTTP API for evmindex.
// @title evmindex status API
// @version 1.0
// @description Operator status, health, and metrics endpoints for the evmindex fetch service. Does not serve indexed events.
// @contact.name API Support
// @contact.url https://github.com/goran-ethernal/evmindex
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @basePath /
// @schemes http https
package api
