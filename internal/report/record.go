// Package report writes command and case results to files, Kafka topics and
// MongoDB collections.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/andrej220/boardrun/internal/cases"
	"github.com/andrej220/boardrun/internal/runner"
)

// Record is one reported command.
type Record struct {
	RunID   string        `json:"runId" bson:"runId"`
	Device  string        `json:"device" bson:"device"`
	Marker  string        `json:"marker,omitempty" bson:"marker,omitempty"`
	Command string        `json:"command" bson:"command"`
	Status  string        `json:"status" bson:"status"`
	Code    int           `json:"code" bson:"code"`
	Matches []string      `json:"matches,omitempty" bson:"matches,omitempty"`
	Elapsed time.Duration `json:"elapsed" bson:"elapsed"`
	Passed  *bool         `json:"passed,omitempty" bson:"passed,omitempty"`
	Reason  string        `json:"reason,omitempty" bson:"reason,omitempty"`
	Log     string        `json:"log" bson:"log"`
	Dmesg   string        `json:"dmesg,omitempty" bson:"dmesg,omitempty"`
	At      time.Time     `json:"at" bson:"at"`
}

// NewRunID returns a fresh id shared by all records of one run.
func NewRunID() string { return uuid.NewString() }

// FromResult builds a record for a plain command.
func FromResult(runID, device, command string, res *runner.CommandResult) Record {
	r := Record{
		RunID:   runID,
		Device:  device,
		Command: command,
		At:      time.Now().UTC(),
	}
	if res != nil {
		r.Status = res.Status.String()
		r.Code = res.Status.Code()
		r.Matches = res.Values()
		r.Elapsed = res.Elapsed
		r.Log = res.Log
	}
	return r
}

// FromOutcome builds a record for a case.
func FromOutcome(runID, device, marker string, o cases.Outcome) Record {
	r := FromResult(runID, device, o.Case.Command, o.Result)
	r.Marker = marker
	passed := o.Passed
	r.Passed = &passed
	r.Reason = o.Reason
	r.Dmesg = o.Dmesg
	return r
}

// Sink receives records.
type Sink interface {
	Write(ctx context.Context, records ...Record) error
	Close() error
}

// Multi writes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, records ...Record) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Write(ctx, records...))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
