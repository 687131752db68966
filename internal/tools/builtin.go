package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/trunkline-ai/trunkline/pkg/provider/llm"
)

// RegisterBuiltins adds the calendar tools every agent gets out of the box.
// The handlers are deterministic stand-ins for a real scheduling backend.
func RegisterBuiltins(r *Registry) error {
	if err := r.Register(llm.ToolDefinition{
		Name:        "check_calendar_availability",
		Description: "Check if a specific time slot is available for a meeting.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date": map[string]any{
					"type":        "string",
					"description": "The date to check in YYYY-MM-DD format.",
				},
				"time": map[string]any{
					"type":        "string",
					"description": "The time to check in HH:MM format (24h).",
				},
			},
			"required": []any{"date", "time"},
		},
	}, checkCalendarAvailability); err != nil {
		return err
	}

	return r.Register(llm.ToolDefinition{
		Name:        "book_appointment",
		Description: "Book a meeting for the user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date": map[string]any{"type": "string"},
				"time": map[string]any{"type": "string"},
				"name": map[string]any{
					"type":        "string",
					"description": "Name of the person booking",
				},
				"phone": map[string]any{
					"type":        "string",
					"description": "Phone number of the person",
				},
			},
			"required": []any{"date", "time", "name"},
		},
	}, bookAppointment)
}

// checkCalendarAvailability reports whether a slot is free. The 10:00 slot is
// always taken.
func checkCalendarAvailability(_ context.Context, args map[string]any) (string, error) {
	timeArg, _ := args["time"].(string)
	if strings.Contains(timeArg, "10:00") {
		return "false", nil
	}
	return "true", nil
}

// bookAppointment confirms a booking.
func bookAppointment(_ context.Context, args map[string]any) (string, error) {
	date, _ := args["date"].(string)
	timeArg, _ := args["time"].(string)
	name, _ := args["name"].(string)
	return fmt.Sprintf("Success. Appointment booked for %s on %s at %s.", name, date, timeArg), nil
}
