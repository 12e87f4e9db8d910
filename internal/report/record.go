// Package report builds, encodes and transmits the periodic occupancy report.
package report

import (
	"encoding/json"
	"errors"
	"fmt"

	"occupancy-node/internal/identity"
)

// MaxBodySize bounds an encoded report.
const MaxBodySize = 512

// ErrBodyTooLarge is returned when an encoded report exceeds MaxBodySize.
var ErrBodyTooLarge = errors.New("report body too large")

// Record is the wire form of one report. It lives for a single cycle.
type Record struct {
	SensorID        string `json:"sensorId"`
	FirmwareVersion string `json:"firmwareVersion"`
	Authorization   string `json:"authorization"`
	Occupants       int    `json:"occupants"`
}

// NewRecord builds the record for one cycle.
func NewRecord(id identity.Identity, occupied bool) Record {
	r := Record{
		SensorID:        id.SensorID,
		FirmwareVersion: id.FirmwareVersion,
		Authorization:   id.AuthToken,
	}
	if occupied {
		r.Occupants = 1
	}
	return r
}

// Encode serializes a record to JSON.
func Encode(r Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	if len(data) > MaxBodySize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrBodyTooLarge, len(data), MaxBodySize)
	}
	return data, nil
}
