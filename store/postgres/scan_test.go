package postgres

import (
	"reflect"
	"testing"
	"time"

	"github.com/famedly/requeuest/id"
)

// staticRow feeds fixed values to scanJob without a database.
type staticRow struct {
	vals []any
}

func (r staticRow) Scan(dest ...any) error {
	for i, d := range dest {
		if r.vals[i] == nil {
			continue
		}
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.vals[i]))
	}
	return nil
}

func jobRow(jobID, leaseOwner string) staticRow {
	now := time.Now().UTC()
	var owner any
	if leaseOwner != "" {
		owner = &leaseOwner
	}
	return staticRow{vals: []any{
		jobID, "ch", nil, []byte("{}"), "claimed",
		1, now,
		owner, nil, "",
		now, now,
	}}
}

func TestScanJob_ParsesLeaseOwner(t *testing.T) {
	w := id.NewWorkerID()
	j, err := scanJob(jobRow(id.NewJobID().String(), w.String()))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if j.LeaseOwner.String() != w.String() {
		t.Errorf("lease owner = %s, want %s", j.LeaseOwner, w)
	}
}

func TestScanJob_RejectsMalformedLeaseOwner(t *testing.T) {
	if _, err := scanJob(jobRow(id.NewJobID().String(), "not-a-worker-id")); err == nil {
		t.Fatal("expected parse error for malformed lease owner")
	}
}

func TestScanJob_RejectsMalformedJobID(t *testing.T) {
	if _, err := scanJob(jobRow("not-a-job-id", "")); err == nil {
		t.Fatal("expected parse error for malformed job id")
	}
}
