package claims

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/liamcoop/flyclaim/compensation"
	"github.com/liamcoop/flyclaim/lifecycle"
)

// recordColumns is the column order shared by every SELECT and INSERT on claims.
const recordColumns = `id, reference, flight_number, airline_code, airline_name, flight_date,
	route_from, route_to, request, compensation, obligations, status,
	submitted_at, response_deadline, escalated_at, resolved_at,
	resolution_notes, amount_received, created_at, updated_at`

const activityColumns = `id, claim_id, activity_type, description, performed_by, metadata, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// encodedRecord holds the JSON columns of a record.
type encodedRecord struct {
	request      []byte
	compensation []byte // nil when not assessed
	obligations  []byte // nil when none derived
}

func encodeRecord(r *Record) (encodedRecord, error) {
	var enc encodedRecord
	var err error

	if enc.request, err = json.Marshal(r.Request); err != nil {
		return enc, fmt.Errorf("failed to encode request: %w", err)
	}
	if r.Compensation != nil {
		if enc.compensation, err = json.Marshal(r.Compensation); err != nil {
			return enc, fmt.Errorf("failed to encode compensation: %w", err)
		}
	}
	if r.Obligations != nil {
		if enc.obligations, err = json.Marshal(r.Obligations); err != nil {
			return enc, fmt.Errorf("failed to encode obligations: %w", err)
		}
	}
	return enc, nil
}

func (enc encodedRecord) decodeInto(r *Record) error {
	if err := json.Unmarshal(enc.request, &r.Request); err != nil {
		return fmt.Errorf("failed to decode request of claim %s: %w", r.ID, err)
	}
	if len(enc.compensation) > 0 {
		var res compensation.Result
		if err := json.Unmarshal(enc.compensation, &res); err != nil {
			return fmt.Errorf("failed to decode compensation of claim %s: %w", r.ID, err)
		}
		r.Compensation = &res
	}
	if len(enc.obligations) > 0 {
		var o compensation.Obligations
		if err := json.Unmarshal(enc.obligations, &o); err != nil {
			return fmt.Errorf("failed to decode obligations of claim %s: %w", r.ID, err)
		}
		r.Obligations = &o
	}
	return nil
}

func encodeMetadata(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return json.Marshal(meta)
}

func decodeMetadata(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode activity metadata: %w", err)
	}
	return meta, nil
}

func parseStoredStatus(id, s string) (lifecycle.Status, error) {
	status, err := lifecycle.ParseStatus(s)
	if err != nil {
		return 0, fmt.Errorf("claim %s: %w", id, err)
	}
	return status, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// nullJSON turns an absent JSON document into SQL NULL.
func nullJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
