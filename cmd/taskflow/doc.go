// Command taskflow runs declarative agent workflows.
//
//	taskflow run --config workflow.yaml     # execute one workflow and exit
//	taskflow validate --config workflow.yaml
//	taskflow serve --addr :8080             # REST control surface
//	taskflow version
//
// Exit codes from run: 0 completed, 1 failed, 2 partially completed,
// 64 configuration invalid, 130 cancelled.
package main
