package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"OptionPool/internal/event"
	"OptionPool/internal/ledger"
)

// CommandSubjectPrefix is the subject namespace commands arrive on:
// pool.commands.{command_type}.
const CommandSubjectPrefix = "pool.commands."

var (
	ErrMissingKey       = errors.New("idempotency_key is required")
	ErrMissingCaller    = errors.New("caller is required")
	ErrMissingTimestamp = errors.New("timestamp must be positive")
)

// ParseRawCommand decodes a JSON payload into the typed command named by
// typeName and checks its header.
//
// Unknown fields are rejected so a misspelt field fails loudly instead of
// decoding to a zero value.
func ParseRawCommand(raw RawEvent, typeName string) (event.Command, error) {
	ct, err := event.ParseCommandType(typeName)
	if err != nil {
		return nil, err
	}
	cmd, err := event.New(ct)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, fmt.Errorf("parse %s: %w", typeName, err)
	}
	if err := ValidateHeader(cmd); err != nil {
		return nil, fmt.Errorf("parse %s: %w", typeName, err)
	}
	return cmd, nil
}

// ValidateHeader checks the fields every command carries.
func ValidateHeader(cmd event.Command) error {
	if strings.TrimSpace(cmd.IdempotencyKey()) == "" {
		return ErrMissingKey
	}
	if cmd.Caller() == ledger.ZeroAddress {
		return ErrMissingCaller
	}
	if cmd.Timestamp() <= 0 {
		return ErrMissingTimestamp
	}
	return nil
}

// CommandTypeFromSubject extracts the command type name from a subject
// such as "pool.commands.purchase" or "pool.commands.purchase.shard-2".
func CommandTypeFromSubject(subject string) (string, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok || rest == "" {
		return "", fmt.Errorf("subject %q is not a command subject", subject)
	}
	name, _, _ := strings.Cut(rest, ".")
	return name, nil
}
