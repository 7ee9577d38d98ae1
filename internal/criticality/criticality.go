// Package criticality maps Windows security event IDs to a criticality
// level used to annotate decisions and drive alerting metrics.
package criticality

import "strconv"

// Level is the criticality of a Windows security event.
type Level string

const (
	High   Level = "high"
	Medium Level = "medium"
	Low    Level = "low"
)

// windowsEventCriticality maps Windows event IDs to their criticality.
// Events absent from the table are Low.
var windowsEventCriticality = map[int]Level{
	// High criticality events
	4618: High, // Monitored security event pattern
	4649: High, // Replay attack detected
	4719: High, // System audit policy changed
	4765: High, // SID History added
	4766: High, // SID History add failed
	4794: High, // Directory Services Restore Mode attempt
	4897: High, // Role separation enabled
	4964: High, // Special groups assigned to new logon

	550:  High, // Possible DoS attack
	1102: High, // Audit log cleared
	517:  High, // Audit log cleared (legacy)

	// Medium criticality events
	4621: Medium, // Administrator recovered system
	4675: Medium, // SIDs were filtered
	4692: Medium, // Backup of data protection master key
	4693: Medium, // Recovery of data protection master key
}

// ForEventID returns the criticality level for a Windows event ID.
func ForEventID(eventID int) Level {
	if level, ok := windowsEventCriticality[eventID]; ok {
		return level
	}
	return Low
}

// ForAttribute parses the event id attribute emitted by the normalizer
// and returns its criticality. Unparseable or missing values are Low.
func ForAttribute(eventID string) Level {
	id, err := strconv.Atoi(eventID)
	if err != nil {
		return Low
	}
	return ForEventID(id)
}
