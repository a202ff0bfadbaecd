// Package services groups the HTTP endpoints of the cloudmesh services. Each
// sub-package mounts the routes of one service on a chi router:
//
//   - base: echo endpoints without any infrastructure.
//   - client: refreshable properties and a counter.
//   - cloudclient: config access, sessions, data source, discovery and the
//     stream listeners.
//   - cloudserver: registry dumps and message sending.
package services
