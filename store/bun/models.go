package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	requeuest "github.com/famedly/requeuest"
	"github.com/famedly/requeuest/id"
	"github.com/famedly/requeuest/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:requeuest_jobs"`

	ID             string     `bun:"id,pk"`
	Channel        string     `bun:"channel,notnull"`
	Seq            *int64     `bun:"seq"`
	Payload        []byte     `bun:"payload,notnull,type:bytea"`
	State          string     `bun:"state,notnull,default:'pending'"`
	AttemptCount   int        `bun:"attempt_count,notnull,default:0"`
	NotBefore      time.Time  `bun:"not_before,notnull,default:current_timestamp"`
	LeaseOwner     string     `bun:"lease_owner"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at"`
	LastError      string     `bun:"last_error"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:             j.ID.String(),
		Channel:        j.Channel,
		Seq:            j.Sequence,
		Payload:        j.Payload,
		State:          string(j.State),
		AttemptCount:   j.AttemptCount,
		NotBefore:      j.NotBefore,
		LeaseOwner:     j.LeaseOwner.String(),
		LeaseExpiresAt: j.LeaseExpiresAt,
		LastError:      j.LastError,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("requeuest/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: requeuest.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             parsedID,
		Channel:        m.Channel,
		Sequence:       m.Seq,
		Payload:        m.Payload,
		State:          job.State(m.State),
		AttemptCount:   m.AttemptCount,
		NotBefore:      m.NotBefore,
		LeaseExpiresAt: m.LeaseExpiresAt,
		LastError:      m.LastError,
	}

	if m.LeaseOwner != "" {
		parsedWorker, wErr := id.ParseWorkerID(m.LeaseOwner)
		if wErr != nil {
			return nil, fmt.Errorf("requeuest/bun: parse lease owner %q for job %s: %w", m.LeaseOwner, m.ID, wErr)
		}
		j.LeaseOwner = parsedWorker
	}

	return j, nil
}

// ── Completion model ──────────────────────────────────────────────

type completionModel struct {
	bun.BaseModel `bun:"table:requeuest_completions"`

	JobID       string    `bun:"job_id,pk"`
	Response    []byte    `bun:"response,notnull,type:bytea"`
	CompletedAt time.Time `bun:"completed_at,notnull,default:current_timestamp"`
}

func fromCompletionModel(m *completionModel) (*job.Completion, error) {
	parsedID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("requeuest/bun: parse job id %q: %w", m.JobID, err)
	}

	return &job.Completion{
		JobID:       parsedID,
		Response:    m.Response,
		CompletedAt: m.CompletedAt,
	}, nil
}
