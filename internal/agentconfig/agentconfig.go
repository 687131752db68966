// Package agentconfig resolves the agent configuration attached to a phone
// number at call setup time.
//
// Configurations live in the management API and are cached in Redis with a
// short TTL so dashboard edits propagate quickly. A call cannot proceed
// without a valid configuration; resolution failures reject the call before
// any audio flows.
package agentconfig

import (
	"errors"
	"fmt"
)

// AgentConfig is the per-agent configuration resolved once per call. It is
// immutable for the call lifetime. Field tags follow the management API's
// lookup JSON.
type AgentConfig struct {
	AgentID       string `json:"id"`
	TenantID      string `json:"tenant_id"`
	Name          string `json:"name"`
	SystemPrompt  string `json:"system_prompt"`
	VoiceProvider string `json:"voice_provider"`
	VoiceID       string `json:"voice_id"`
	PhoneNumber   string `json:"phone_number"`
}

// Validate reports every missing required field. A config that fails
// validation rejects the call at setup.
func (c *AgentConfig) Validate() error {
	var errs []error
	if c.AgentID == "" {
		errs = append(errs, errors.New("agent config: missing id"))
	}
	if c.TenantID == "" {
		errs = append(errs, errors.New("agent config: missing tenant_id"))
	}
	if c.SystemPrompt == "" {
		errs = append(errs, errors.New("agent config: missing system_prompt"))
	}
	if c.VoiceID == "" {
		errs = append(errs, errors.New("agent config: missing voice_id"))
	}
	return errors.Join(errs...)
}

// Call directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Answering-party classifications after normalization.
const (
	AnsweredByHuman   = "human"
	AnsweredByMachine = "machine"
	AnsweredByUnknown = "unknown"
)

// CallContext carries the per-call parameters parsed from the media-stream
// URL query, as opposed to the per-agent configuration.
type CallContext struct {
	// Direction is DirectionInbound or DirectionOutbound.
	Direction string
	// AnsweredBy is the normalized answering-party classification.
	AnsweredBy string
	// CustomerName is the optional callee name for outbound greetings.
	CustomerName string
}

// NewCallContext normalizes raw query-parameter values into a CallContext.
// An empty direction defaults to inbound; unrecognized directions are an
// error. Raw telephony answered-by values such as "machine_start" and
// "machine_end_beep" collapse to machine.
func NewCallContext(direction, answeredBy, customerName string) (CallContext, error) {
	switch direction {
	case "":
		direction = DirectionInbound
	case DirectionInbound, DirectionOutbound:
	default:
		return CallContext{}, fmt.Errorf("agent config: unknown call direction %q", direction)
	}
	return CallContext{
		Direction:    direction,
		AnsweredBy:   NormalizeAnsweredBy(answeredBy),
		CustomerName: customerName,
	}, nil
}

// NormalizeAnsweredBy maps raw telephony answered_by values to the three
// canonical classifications.
func NormalizeAnsweredBy(raw string) string {
	switch raw {
	case "human":
		return AnsweredByHuman
	case "machine_start", "machine_end_beep", "machine_end_silence", "machine_end_other":
		return AnsweredByMachine
	default:
		return AnsweredByUnknown
	}
}
