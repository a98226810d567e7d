package convert

import "strings"

type leadCode struct {
	value   string
	scheme  string
	meaning string
}

// Lead codes from DICOM CID 3001 (MDC).
var leadCodes = map[string]leadCode{
	"I":   {"2:1", "MDC", "Lead I"},
	"II":  {"2:2", "MDC", "Lead II"},
	"III": {"2:61", "MDC", "Lead III"},
	"AVR": {"2:62", "MDC", "Lead aVR"},
	"AVL": {"2:63", "MDC", "Lead aVL"},
	"AVF": {"2:64", "MDC", "Lead aVF"},
	"V1":  {"2:3", "MDC", "Lead V1"},
	"V2":  {"2:4", "MDC", "Lead V2"},
	"V3":  {"2:5", "MDC", "Lead V3"},
	"V4":  {"2:6", "MDC", "Lead V4"},
	"V5":  {"2:7", "MDC", "Lead V5"},
	"V6":  {"2:8", "MDC", "Lead V6"},
}

func lookupLead(label string) leadCode {
	normalized := strings.ToUpper(strings.TrimSpace(label))
	normalized = strings.TrimPrefix(normalized, "LEAD ")
	if code, ok := leadCodes[normalized]; ok {
		return code
	}
	return leadCode{value: truncate(label, 16), scheme: "99LOCAL", meaning: truncate(label, 64)}
}
