// Package server hosts the Fiber HTTP service in front of the offline cache:
// the request-id middleware, panic recovery and the catch-all route that hands
// every non-diagnostic request to the interceptor. Diagnostic and control
// endpoints live under the reserved /-/ prefix and are registered by the
// routes subpackage, so keep exports narrow and accept explicit dependencies.
package server
