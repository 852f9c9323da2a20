package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"barcamp/api/internal/export"
	"barcamp/api/internal/grid"
	"barcamp/api/internal/model"
	"barcamp/api/internal/notify"
	"barcamp/api/internal/rbac"
	"barcamp/api/internal/reconcile"
	"barcamp/api/internal/search"
	"barcamp/api/internal/store"
	"barcamp/api/internal/submission"
	"barcamp/api/internal/topic"
)

// Session identifies the caller. The widget host authenticates room members
// and forwards the user id and power-level role.
type Session struct {
	UserID string
	Role   rbac.Role
}

type Deps struct {
	Replica  store.Replica
	Reducer  *grid.Store
	Grid     *reconcile.Layer
	Topics   *topic.Store
	Queue    *submission.Queue
	Notifier *notify.Notifier
	Search   *search.Service
	Export   *export.Service
	Template grid.Template
	Logger   *slog.Logger
	Now      func() time.Time
}

type Service struct {
	replica  store.Replica
	reducer  *grid.Store
	grid     *reconcile.Layer
	topics   *topic.Store
	queue    *submission.Queue
	notifier *notify.Notifier
	search   *search.Service
	export   *export.Service
	template grid.Template
	logger   *slog.Logger
	now      func() time.Time
}

func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.New(deps.Logger)
	}
	if deps.Search == nil {
		deps.Search = search.NewService(nil, nil, deps.Logger)
	}
	if deps.Export == nil {
		deps.Export = export.NewService(deps.Topics)
	}
	if len(deps.Template.Tracks) == 0 && len(deps.Template.TimeSlots) == 0 {
		deps.Template = grid.DefaultTemplate()
	}
	return &Service{
		replica:  deps.Replica,
		reducer:  deps.Reducer,
		grid:     deps.Grid,
		topics:   deps.Topics,
		queue:    deps.Queue,
		notifier: deps.Notifier,
		search:   deps.Search,
		export:   deps.Export,
		template: deps.Template,
		logger:   deps.Logger,
		now:      deps.Now,
	}
}

// Bootstrap restores the submission log, loads shared topics and the grid,
// and sets the grid up from the template when autoSetup is on and none
// exists yet.
func (s *Service) Bootstrap(ctx context.Context, autoSetup bool) error {
	if err := s.queue.Restore(ctx); err != nil {
		return err
	}
	if err := s.topics.Load(ctx); err != nil {
		return err
	}
	s.search.Reindex(s.topics.SharedTopics())

	err := s.grid.Load(ctx)
	if model.CodeOf(err) == model.CodeGridNotInitialized {
		if !autoSetup {
			s.logger.Info("session grid not set up yet")
			return nil
		}
		g, serr := s.SetupGrid(ctx, s.now())
		if model.CodeOf(serr) == model.CodeGridExists {
			return s.grid.Load(ctx)
		}
		if serr != nil {
			return serr
		}
		s.logger.Info("session grid set up", "tracks", len(g.Tracks), "time_slots", len(g.TimeSlots))
		return nil
	}
	return err
}

// Start follows remote changes to the grid, topics and submission queue
// until ctx ends.
func (s *Service) Start(ctx context.Context) error {
	if err := s.grid.Start(ctx); err != nil {
		return err
	}
	if err := s.topics.Start(ctx); err != nil {
		return err
	}
	return s.queue.Follow(ctx)
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

func (s *Service) require(session Session, action rbac.Action) error {
	if !rbac.Can(session.Role, action) {
		return forbidden(string(action))
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	if pinger, ok := s.replica.(store.Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// GridView is the grid as the UI renders it. The collision policy tells the
// UI what a drop onto an occupied cell does.
type GridView struct {
	Grid            model.SessionGrid    `json:"grid"`
	State           reconcile.State      `json:"state"`
	Fingerprint     string               `json:"fingerprint"`
	CollisionPolicy grid.CollisionPolicy `json:"collisionPolicy"`
}

func (s *Service) Grid() (GridView, error) {
	if !s.grid.Loaded() {
		return GridView{}, model.NotFound(model.CodeGridNotInitialized, "the session grid has not been set up")
	}
	g, state := s.grid.Snapshot()
	fp, err := model.Fingerprint(g)
	if err != nil {
		return GridView{}, err
	}
	return GridView{Grid: g, State: state, Fingerprint: fp, CollisionPolicy: s.reducer.CollisionPolicy()}, nil
}

// ExportGrid renders the confirmed grid as a printable schedule.
func (s *Service) ExportGrid(ctx context.Context, session Session, req export.Request) (*export.Result, error) {
	if err := s.require(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	if !s.grid.Loaded() {
		return nil, model.NotFound(model.CodeGridNotInitialized, "the session grid has not been set up")
	}
	return s.export.Export(ctx, s.grid.Confirmed(), req)
}

// SetupGrid creates the grid from the configured template on day.
func (s *Service) SetupGrid(ctx context.Context, day time.Time) (model.SessionGrid, error) {
	g, err := s.reducer.Setup(day, s.template)
	if err != nil {
		return model.SessionGrid{}, err
	}
	return s.grid.Initialize(ctx, g)
}

// Execute runs a grid command. Pin and unpin are checked against the grid
// and recorded on the topic document, which is where the flag lives.
func (s *Service) Execute(ctx context.Context, session Session, cmd grid.Command) (model.SessionGrid, error) {
	if err := s.require(session, rbac.ActionEditGrid); err != nil {
		return model.SessionGrid{}, err
	}
	switch c := cmd.(type) {
	case grid.PinTopic:
		return s.setPinned(ctx, c.TopicID, true)
	case grid.UnpinTopic:
		return s.setPinned(ctx, c.TopicID, false)
	}
	return s.grid.Execute(ctx, cmd)
}

func (s *Service) setPinned(ctx context.Context, topicID string, pinned bool) (model.SessionGrid, error) {
	if !s.grid.Loaded() {
		return model.SessionGrid{}, model.NotFound(model.CodeGridNotInitialized, "the session grid has not been set up")
	}
	g := s.grid.Confirmed()
	var err error
	if pinned {
		_, err = s.reducer.PinTopic(g, topicID)
	} else {
		_, err = s.reducer.UnpinTopic(g, topicID)
	}
	if err != nil {
		return model.SessionGrid{}, err
	}
	if _, err := s.topics.SetPinned(ctx, topicID, pinned); err != nil {
		return model.SessionGrid{}, err
	}
	return g, nil
}

func (s *Service) CreateDraft(ctx context.Context, session Session) (model.Topic, error) {
	if err := s.require(session, rbac.ActionSubmitTopic); err != nil {
		return model.Topic{}, err
	}
	return s.topics.CreateDraft(ctx, session.UserID)
}

func (s *Service) Drafts(ctx context.Context, session Session) ([]model.Topic, error) {
	return s.topics.Drafts(ctx, session.UserID)
}

func (s *Service) Topic(ctx context.Context, session Session, topicID string) (model.Topic, error) {
	return s.topics.Get(ctx, session.UserID, topicID)
}

func (s *Service) SharedTopics() []model.Topic {
	return s.topics.SharedTopics()
}

// TopicUpdate carries the fields a caller wants to change; nil leaves a
// field alone.
type TopicUpdate struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (s *Service) UpdateTopic(ctx context.Context, session Session, topicID string, update TopicUpdate) (model.Topic, error) {
	current, err := s.authorizeTopic(ctx, session, topicID)
	if err != nil {
		return model.Topic{}, err
	}
	if update.Title != nil {
		if current, err = s.topics.UpdateTitle(ctx, session.UserID, topicID, *update.Title); err != nil {
			return current, err
		}
	}
	if update.Description != nil {
		if current, err = s.topics.UpdateDescription(ctx, session.UserID, topicID, *update.Description); err != nil {
			return current, err
		}
	}
	return current, nil
}

func (s *Service) SubmitTopic(ctx context.Context, session Session, topicID string) (model.TopicSubmission, model.Topic, error) {
	if err := s.require(session, rbac.ActionSubmitTopic); err != nil {
		return model.TopicSubmission{}, model.Topic{}, err
	}
	if err := s.checkUnlocked(ctx, session); err != nil {
		return model.TopicSubmission{}, model.Topic{}, err
	}
	return s.topics.Submit(ctx, session.UserID, topicID)
}

func (s *Service) DeleteTopic(ctx context.Context, session Session, topicID string) error {
	if _, err := s.authorizeTopic(ctx, session, topicID); err != nil {
		return err
	}
	return s.topics.Delete(ctx, session.UserID, topicID)
}

// authorizeTopic lets authors change their own topics and moderators any
// shared topic.
func (s *Service) authorizeTopic(ctx context.Context, session Session, topicID string) (model.Topic, error) {
	if err := s.require(session, rbac.ActionEditTopic); err != nil {
		return model.Topic{}, err
	}
	t, err := s.topics.Get(ctx, session.UserID, topicID)
	if err != nil {
		return model.Topic{}, err
	}
	if !t.HasAuthor(session.UserID) && !rbac.Can(session.Role, rbac.ActionEditGrid) {
		return model.Topic{}, forbidden(string(rbac.ActionEditTopic))
	}
	return t, nil
}

func (s *Service) consumed() []string {
	if !s.grid.Loaded() {
		return nil
	}
	return s.grid.Confirmed().ConsumedSubmissionIDs
}

// SubmissionView pairs a queued submission with its topic.
type SubmissionView struct {
	model.TopicSubmission
	Topic *model.Topic `json:"topic,omitempty"`
}

// Submissions lists the queue not yet consumed, oldest first.
func (s *Service) Submissions() []SubmissionView {
	subs := s.queue.Visible(s.consumed())
	out := make([]SubmissionView, 0, len(subs))
	for _, sub := range subs {
		view := SubmissionView{TopicSubmission: sub}
		if t, ok := s.topics.Shared(sub.TopicID); ok {
			view.Topic = &t
		}
		out = append(out, view)
	}
	return out
}

// SelectNext moves the oldest visible submission into the parking lot.
func (s *Service) SelectNext(ctx context.Context, session Session) (model.SessionGrid, model.TopicSubmission, error) {
	if err := s.require(session, rbac.ActionManageQueue); err != nil {
		return model.SessionGrid{}, model.TopicSubmission{}, err
	}
	sub, err := s.queue.Next(s.consumed())
	if err != nil {
		return model.SessionGrid{}, model.TopicSubmission{}, err
	}
	g, err := s.grid.Execute(ctx, grid.ConsumeSubmission{SubmissionID: sub.ID, TopicID: sub.TopicID})
	return g, sub, err
}

func (s *Service) Consume(ctx context.Context, session Session, submissionID string) (model.SessionGrid, error) {
	if err := s.require(session, rbac.ActionManageQueue); err != nil {
		return model.SessionGrid{}, err
	}
	sub, err := s.queue.Get(submissionID)
	if err != nil {
		return model.SessionGrid{}, err
	}
	if _, ok := s.topics.Shared(sub.TopicID); !ok {
		return model.SessionGrid{}, model.NotFound(model.CodeTopicNotFound, "topic %s of submission %s was deleted", sub.TopicID, sub.ID)
	}
	return s.grid.Execute(ctx, grid.ConsumeSubmission{SubmissionID: sub.ID, TopicID: sub.TopicID})
}

// submissionLockKey is the state key of the lock record in the room.
const submissionLockKey = "submissions"

type submissionLock struct {
	Locked bool `json:"locked"`
}

// SetSubmissionsLocked stores the lock as a room state record.
func (s *Service) SetSubmissionsLocked(ctx context.Context, session Session, locked bool) error {
	if err := s.require(session, rbac.ActionLockSubmissions); err != nil {
		return err
	}
	data, err := json.Marshal(submissionLock{Locked: locked})
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		current, revision, err := s.readLock(ctx)
		if err != nil {
			return err
		}
		if current.Locked == locked && revision > 0 {
			return nil
		}
		_, err = s.replica.WriteState(ctx, store.TypeSubmissionLock, submissionLockKey, data, revision)
		if errors.Is(err, store.ErrConflict) && attempt == 0 {
			continue
		}
		if err != nil {
			return fmt.Errorf("write submission lock: %w", err)
		}
		s.logger.Info("topic submissions lock changed", "locked", locked, "by", session.UserID)
		return nil
	}
}

func (s *Service) SubmissionsLocked(ctx context.Context) (bool, error) {
	lock, _, err := s.readLock(ctx)
	return lock.Locked, err
}

func (s *Service) readLock(ctx context.Context) (submissionLock, int64, error) {
	rec, err := s.replica.ReadState(ctx, store.TypeSubmissionLock, submissionLockKey)
	if errors.Is(err, store.ErrNotFound) {
		return submissionLock{}, 0, nil
	}
	if err != nil {
		return submissionLock{}, 0, fmt.Errorf("read submission lock: %w", err)
	}
	var lock submissionLock
	if err := json.Unmarshal(rec.Value, &lock); err != nil {
		return submissionLock{}, 0, fmt.Errorf("decode submission lock: %w", err)
	}
	return lock, rec.Revision, nil
}

// checkUnlocked rejects participant submissions while moderators have
// locked them.
func (s *Service) checkUnlocked(ctx context.Context, session Session) error {
	if rbac.Can(session.Role, rbac.ActionLockSubmissions) {
		return nil
	}
	locked, err := s.SubmissionsLocked(ctx)
	if err != nil {
		return err
	}
	if locked {
		return model.Validation(model.CodeSubmissionsLocked, "topic submissions are locked")
	}
	return nil
}

func (s *Service) Notifications() []notify.Notification {
	return s.notifier.Active()
}

func (s *Service) DismissNotification(context string) {
	s.notifier.Dismiss(context)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	q.Text = strings.TrimSpace(q.Text)
	return s.search.Search(ctx, q)
}

func isNotInitialized(err error) bool {
	var merr *model.Error
	return errors.As(err, &merr) && merr.Code == model.CodeGridNotInitialized
}
