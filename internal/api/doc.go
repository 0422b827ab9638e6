// Package api serves the admin HTTP surface of the indexer: starting,
// inspecting, aborting and resetting reindex jobs, inspecting and draining
// the indexing queue, plus the public health and metrics endpoints.
//
// Admin routes require a bearer token signed with the configured HS256
// secret and carrying the admin role claim. Error responses never expose
// internal error text; see MapErrorToStatusCode and GetSafeErrorMessage.
package api
