// Package manifest loads declarative pipeline manifests written in CUE.
//
// A manifest names the middleware of one pipeline, the catalog component
// each entry uses, and the ordering metadata the resolver consumes:
//
//	pipeline: {
//		name: "checkout"
//		mode: "blocking"
//		middleware: [
//			{id: "logging"},
//			{id: "auth", before: ["logging"]},
//			{id: "audit", uses: "logging", after: ["auth"], lifetime: "transient"},
//			{id: "terminal", order: 100},
//		]
//	}
//
// Manifests are unified with an embedded schema, so unknown fields,
// malformed identities and invalid kinds are rejected with the CUE source
// position of the offending value.
package manifest
