// Package alerts implements the rule evaluation engine and webhook delivery
// for line KPI alerting. Rules are evaluated against every recomputed line;
// webhooks are delivered to Teams, Slack, or generic HTTP targets.
package alerts
