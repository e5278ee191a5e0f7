// Package service contains the application-specific use cases. It
// orchestrates the queue broker, the event broadcaster and the pipeline
// engine to fulfill task submission, status reads and event streaming,
// keeping transport concerns out of the core packages.
package service
