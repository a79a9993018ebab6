// Package handlers implements the REST control surface: workflow
// submission and inspection, cancellation, agent connectivity tests,
// health, and the websocket event stream.
package handlers
