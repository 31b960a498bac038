// Package memory provides in-memory implementations of the Waypoint ports:
// template store and source, graph and action item repositories, and an identity directory.
// They back the default engine, tests, and single-process deployments.
package memory
