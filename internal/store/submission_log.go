package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"barcamp/api/internal/model"
	"barcamp/api/internal/submission"
)

// ReplicaSubmissionLog keeps one state record per submitted topic, keyed by
// topic id. A withdrawal rewrites the record with the withdrawn kind, so the
// record always carries the original submission.
type ReplicaSubmissionLog struct {
	replica Replica
}

func NewReplicaSubmissionLog(replica Replica) *ReplicaSubmissionLog {
	return &ReplicaSubmissionLog{replica: replica}
}

func (l *ReplicaSubmissionLog) Append(ctx context.Context, entry submission.Entry) error {
	topicID := entry.Submission.TopicID
	switch entry.Kind {
	case submission.EntrySubmitted:
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal submission entry: %w", err)
		}
		_, err = l.replica.WriteState(ctx, TypeTopicSubmission, topicID, data, 0)
		if errors.Is(err, ErrConflict) {
			return model.Validation(model.CodeDuplicateSubmission, "topic %s was already submitted", topicID)
		}
		if err != nil {
			return fmt.Errorf("write submission %s: %w", topicID, err)
		}
		return nil
	case submission.EntryWithdrawn:
		for attempt := 0; ; attempt++ {
			err := l.withdraw(ctx, topicID)
			if !errors.Is(err, ErrConflict) || attempt > 0 {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown submission entry kind %q", entry.Kind)
	}
}

func (l *ReplicaSubmissionLog) withdraw(ctx context.Context, topicID string) error {
	entry := submission.Entry{Kind: submission.EntryWithdrawn, Submission: model.TopicSubmission{TopicID: topicID}}
	var revision int64
	rec, err := l.replica.ReadState(ctx, TypeTopicSubmission, topicID)
	switch {
	case err == nil:
		current, derr := decodeSubmissionEntry(rec)
		if derr != nil {
			return derr
		}
		entry.Submission = current.Submission
		revision = rec.Revision
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("read submission %s: %w", topicID, err)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal submission entry: %w", err)
	}
	if _, err := l.replica.WriteState(ctx, TypeTopicSubmission, topicID, data, revision); err != nil {
		return fmt.Errorf("write withdrawal %s: %w", topicID, err)
	}
	return nil
}

// Load lists every submission record. The queue orders them by submission
// time, so record order does not matter.
func (l *ReplicaSubmissionLog) Load(ctx context.Context) ([]submission.Entry, error) {
	lister, ok := l.replica.(Lister)
	if !ok {
		return nil, errors.New("backend cannot list submissions")
	}
	records, err := lister.List(ctx, TypeTopicSubmission)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	var entries []submission.Entry
	for _, rec := range records {
		e, err := decodeSubmissionEntry(rec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, expandEntry(e)...)
	}
	return entries, nil
}

func (l *ReplicaSubmissionLog) Watch(ctx context.Context) (<-chan submission.Entry, error) {
	records, err := l.replica.Subscribe(ctx, TypeTopicSubmission)
	if err != nil {
		return nil, fmt.Errorf("subscribe submissions: %w", err)
	}
	out := make(chan submission.Entry, 16)
	go func() {
		defer close(out)
		for rec := range records {
			e, err := decodeSubmissionEntry(rec)
			if err != nil {
				continue
			}
			for _, x := range expandEntry(e) {
				select {
				case out <- x:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// expandEntry turns a withdrawn record back into the submission it hides
// followed by the withdrawal.
func expandEntry(e submission.Entry) []submission.Entry {
	if e.Kind != submission.EntryWithdrawn || e.Submission.ID == "" {
		return []submission.Entry{e}
	}
	return []submission.Entry{
		{Kind: submission.EntrySubmitted, Submission: e.Submission},
		e,
	}
}

func decodeSubmissionEntry(rec Record) (submission.Entry, error) {
	var e submission.Entry
	if err := json.Unmarshal(rec.Value, &e); err != nil {
		return submission.Entry{}, fmt.Errorf("decode submission %s: %w", rec.Key, err)
	}
	e.Submission.TopicID = rec.Key
	return e, nil
}
