// Package functions names the remote health functions and builds the handler
// map the service and the offline queue execute.
package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/SmitUplenchwar2687/Carelink/internal/queue"
)

const (
	ProcessHealthData           = "processHealthData"
	GenerateHealthReport        = "generateHealthReport"
	AssessHealthRisk            = "assessHealthRisk"
	CheckMedicationInteractions = "checkMedicationInteractions"
	OptimizeAppointmentSchedule = "optimizeAppointmentSchedule"
	SetupHealthReminders        = "setupHealthReminders"
	SyncPatientData             = "syncPatientData"
)

// Names lists every known function in a stable order.
func Names() []string {
	return []string{
		ProcessHealthData,
		GenerateHealthReport,
		AssessHealthRisk,
		CheckMedicationInteractions,
		OptimizeAppointmentSchedule,
		SetupHealthReminders,
		SyncPatientData,
	}
}

// Known reports whether name is one of Names.
func Known(name string) bool {
	return slices.Contains(Names(), name)
}

// Echo returns handlers that answer {"function": name, "echo": payload}
// without any network access. Used by the simulator and the "echo" backend.
func Echo() queue.Handlers {
	handlers := make(queue.Handlers, len(Names()))
	for _, name := range Names() {
		handlers[name] = func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
			if len(payload) == 0 {
				payload = json.RawMessage("null")
			}
			out, err := json.Marshal(struct {
				Function string          `json:"function"`
				Echo     json.RawMessage `json:"echo"`
			}{name, payload})
			if err != nil {
				return nil, fmt.Errorf("encoding echo for %s: %w", name, err)
			}
			return out, nil
		}
	}
	return handlers
}
