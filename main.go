// tb-dash is the client for the Kubernetes health dashboard.
//
// Usage:
//
//	tb-dash clusters                       # list clusters
//	tb-dash anomalies --status Open        # list open anomalies
//	tb-dash remediate <id> --action restart-pod
//	tb-dash watch                          # follow changes
//	tb-dash serve                          # serve the dashboard API
package main

import "github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/cmd"

var version = "dev"

func main() {
	cmd.Execute(version)
}
