// Package pipeline implements the message processing engine: ordered
// chains of stateless pipes transforming a per-run context. The default
// pipeline has a fixed order; custom pipelines are composed by descending
// pipe priority. Contexts are copy-on-write, so a failing stage never
// leaks partial writes downstream.
package pipeline
