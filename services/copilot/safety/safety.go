// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety validates diagnostic shell commands suggested during an
// investigation.
//
// Validation is annotation-only: a command is never withheld from the
// operator, it is labeled with a safety level and, where a dangerous
// command has a read-only equivalent, a safer alternative.
//
// Thread Safety:
//
//	Validator is immutable after construction and safe for concurrent
//	use.
package safety

import (
	"regexp"
	"strings"
)

// Level classifies the risk of executing a suggested command.
type Level string

const (
	// LevelSafe is a known read-only diagnostic command.
	LevelSafe Level = "safe"

	// LevelCaution is not on the known-safe list but matches no
	// dangerous pattern. The operator should read it before running.
	LevelCaution Level = "caution"

	// LevelDangerous mutates state, destroys data, or restarts services.
	LevelDangerous Level = "dangerous"
)

// Verdict is the annotation attached to one suggested command.
type Verdict struct {
	Level Level `json:"level"`

	// Reason says which rule produced the level.
	Reason string `json:"reason,omitempty"`

	// SaferAlternative is a read-only command that reveals similar
	// information, when one exists.
	SaferAlternative string `json:"safer_alternative,omitempty"`
}

// safePrefixes are known read-only diagnostic commands. A command is
// safe when its leading tokens match a prefix exactly.
var safePrefixes = [][]string{
	{"kubectl", "get"},
	{"kubectl", "describe"},
	{"kubectl", "logs"},
	{"kubectl", "top"},
	{"kubectl", "events"},
	{"docker", "ps"},
	{"docker", "logs"},
	{"docker", "inspect"},
	{"docker", "stats"},
	{"journalctl"},
	{"dmesg"},
	{"systemctl", "status"},
	{"systemctl", "list-units"},
	{"ps"},
	{"top"},
	{"htop"},
	{"free"},
	{"df"},
	{"du"},
	{"uptime"},
	{"netstat"},
	{"ss"},
	{"ip", "addr"},
	{"ip", "route"},
	{"dig"},
	{"nslookup"},
	{"host"},
	{"ping"},
	{"traceroute"},
	{"curl", "-I"},
	{"curl", "--head"},
	{"uname"},
	{"lsof"},
	{"iostat"},
	{"vmstat"},
	{"sar"},
	{"cat"},
	{"tail"},
	{"head"},
	{"grep"},
	{"git", "log"},
	{"git", "diff"},
	{"git", "show"},
	{"git", "status"},
}

// dangerousRule matches a destructive pattern and optionally proposes a
// read-only alternative.
type dangerousRule struct {
	pattern     *regexp.Regexp
	reason      string
	alternative string
}

var dangerousRules = []dangerousRule{
	{
		pattern:     regexp.MustCompile(`\brm\s+(-\w*\s+)*`),
		reason:      "deletes files",
		alternative: "ls -la <path>",
	},
	{
		pattern:     regexp.MustCompile(`\bkubectl\s+(delete|drain|cordon|scale|rollout\s+restart|apply|patch|edit|replace)\b`),
		reason:      "mutates cluster state",
		alternative: "kubectl get -o yaml <resource>",
	},
	{
		pattern:     regexp.MustCompile(`\bdocker\s+(rm|rmi|kill|stop|restart|system\s+prune)\b`),
		reason:      "stops or removes containers",
		alternative: "docker ps -a",
	},
	{
		pattern:     regexp.MustCompile(`\bsystemctl\s+(restart|stop|start|reload|disable|enable|mask)\b`),
		reason:      "changes service state",
		alternative: "systemctl status <unit>",
	},
	{
		pattern: regexp.MustCompile(`\b(reboot|shutdown|halt|poweroff)\b`),
		reason:  "restarts the host",
	},
	{
		pattern:     regexp.MustCompile(`\b(mkfs|fdisk|parted|dd)\b`),
		reason:      "writes to block devices",
		alternative: "lsblk",
	},
	{
		pattern: regexp.MustCompile(`\bkill(all)?\b`),
		reason:  "terminates processes",
	},
	{
		pattern:     regexp.MustCompile(`\b(drop|truncate)\s+(table|database)\b`),
		reason:      "destroys database objects",
		alternative: "select count(*) from <table>",
	},
	{
		pattern: regexp.MustCompile(`\bchmod\s+|\bchown\s+`),
		reason:  "changes permissions",
	},
	{
		pattern: regexp.MustCompile(`>\s*/\w|>>\s*/\w`),
		reason:  "redirects output into a file",
	},
	{
		pattern: regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
		reason:  "pipes remote content into a shell",
	},
	{
		pattern:     regexp.MustCompile(`\bgit\s+(push|reset\s+--hard|clean|rebase)\b`),
		reason:      "rewrites repository state",
		alternative: "git log --oneline -20",
	},
}

// Validator annotates suggested commands with safety verdicts.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate annotates one command.
//
// Description:
//
//	Dangerous patterns are checked before the whitelist so that a safe
//	prefix smuggling a destructive tail ("kubectl get pods; rm -rf /")
//	is still flagged. Commands matching neither list are caution.
//
// Outputs:
//
//	Verdict - Always populated; validation never blocks.
func (v *Validator) Validate(command string) Verdict {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return Verdict{Level: LevelCaution, Reason: "empty command"}
	}

	lower := strings.ToLower(cmd)
	for _, rule := range dangerousRules {
		if rule.pattern.MatchString(lower) {
			return Verdict{
				Level:            LevelDangerous,
				Reason:           rule.reason,
				SaferAlternative: rule.alternative,
			}
		}
	}

	// Compound commands bypass prefix matching on the tail; only a
	// single simple command can be whitelisted.
	if strings.ContainsAny(cmd, ";&|`$(") {
		return Verdict{Level: LevelCaution, Reason: "compound command"}
	}

	fields := strings.Fields(lower)
	for _, prefix := range safePrefixes {
		if matchesPrefix(fields, prefix) {
			return Verdict{Level: LevelSafe}
		}
	}

	return Verdict{Level: LevelCaution, Reason: "not on the known-diagnostic list"}
}

// matchesPrefix reports whether the command tokens start with prefix.
func matchesPrefix(fields, prefix []string) bool {
	if len(fields) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if fields[i] != p {
			return false
		}
	}
	return true
}
