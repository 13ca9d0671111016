package bunstore

import (
	"testing"
	"time"

	"github.com/famedly/requeuest/id"
)

func validJobModel() *jobModel {
	now := time.Now().UTC()
	return &jobModel{
		ID:        id.NewJobID().String(),
		Channel:   "ch",
		Payload:   []byte("{}"),
		State:     "claimed",
		NotBefore: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestFromJobModel_ParsesLeaseOwner(t *testing.T) {
	w := id.NewWorkerID()
	m := validJobModel()
	m.LeaseOwner = w.String()

	j, err := fromJobModel(m)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if j.LeaseOwner.String() != w.String() {
		t.Errorf("lease owner = %s, want %s", j.LeaseOwner, w)
	}
}

func TestFromJobModel_RejectsMalformedLeaseOwner(t *testing.T) {
	m := validJobModel()
	m.LeaseOwner = "not-a-worker-id"

	if _, err := fromJobModel(m); err == nil {
		t.Fatal("expected parse error for malformed lease owner")
	}
}
