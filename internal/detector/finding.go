package detector

import (
	"fmt"

	"upgradeWatch/internal/model"
)

const (
	FindingName = "Upgrade Event Detection"
	// AlertID is keyed on by downstream consumers and must not change.
	AlertID = "NETHFORTA-5"
)

// BuildFinding turns a match into an alert. Missing caller or tx hash become
// empty strings.
func BuildFinding(m Match, caller, txHash string) model.Finding {
	return model.Finding{
		Name:        FindingName,
		Description: fmt.Sprintf("Upgrade event detected for proxy %s", m.Proxy),
		AlertID:     AlertID,
		Type:        model.FindingTypeSuspicious,
		Severity:    model.SeverityHigh,
		Metadata: map[string]string{
			"proxy":             m.Proxy,
			"newImplementation": m.NewImplementation,
			"caller":            normalize(caller),
			"txHash":            normalize(txHash),
		},
	}
}
