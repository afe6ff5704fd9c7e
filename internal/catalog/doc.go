// Package catalog holds the built-in middleware components and assembles
// manifests into runnable pipelines.
//
// A component is a named middleware constructor with a default Kind. A
// manifest entry registers an identity backed by one component, so the
// same component may appear several times under different identities.
// Every component records what it does in the request trace using its
// registered identity.
//
// Fault injection is generic: a request naming an identity in FailAt or
// PanicAt fails or panics when that step is entered, whatever component
// backs it.
package catalog
