// Package backend forwards a request to a resolved upstream URL and relays
// the response.
//
// Each call gets its own deadline derived from the inbound request, so a
// client disconnect or a slow upstream only cancels that one exchange. Bodies
// are streamed in both directions. Hop-by-hop headers are stripped both ways
// and the relayed response carries a Via marker. Upstream failures are mapped
// to a status code and an outcome kind:
//
//	dial or DNS failure     502 UpstreamUnreachable
//	deadline exceeded       504 UpstreamTimeout
//	anything else           502 BadGateway
//	client went away        499 ClientClosedRequest
//	host breaker open       503 CircuitOpen
package backend
