// Package server hosts the Fiber HTTP service for the image cache: the
// recover and request-id middleware chain, the /images route that hands off to
// an injected ImageHandler, and the shared upstream http.Client used by the
// fetcher. Diagnostics routes under /-/ are registered separately by the
// routes subpackage so this package keeps narrow, explicit dependencies.
package server
