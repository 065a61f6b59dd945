// Package finalize runs the side effects of a completed intake: it numbers
// the title, provisions a folder, creates the knowledge-base record, opens a
// collaboration channel and reports back to the requester.
//
// Numbering scans the collection and takes max+1. Two finalizations racing on
// the same collection can pick the same number; nothing here prevents that.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/chancontext"
	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/session"
)

// RecordStore is the knowledge base.
type RecordStore interface {
	// QueryRecords returns one page of collectionID; an empty cursor starts
	// at the beginning.
	QueryRecords(ctx context.Context, collectionID, cursor string) (models.RecordPage, error)
	CreateRecord(ctx context.Context, collectionID string, props models.Properties) (models.Record, error)
}

// FolderProvisioner is the cloud file store.
type FolderProvisioner interface {
	EnsureFolder(ctx context.Context, parentPath, name string) (models.Folder, error)
	CreateShareLink(ctx context.Context, folderID string) (string, error)
}

// Channels is the chat workspace. CreateChannel reports collisions with
// models.ErrChannelNameTaken and policy refusals with
// models.ErrChannelCreationRestricted; InviteUsers reports
// models.ErrAlreadyInChannel.
type Channels interface {
	PostMessage(ctx context.Context, msg models.Message) (string, error)
	CreateChannel(ctx context.Context, name string, private bool) (models.ChannelInfo, error)
	FindChannelByName(ctx context.Context, name string) (models.ChannelInfo, error)
	InviteUsers(ctx context.Context, channelID string, userIDs ...string) error
	SetTopic(ctx context.Context, channelID, topic string) error
	SetPurpose(ctx context.Context, channelID, purpose string) error
}

// PeopleResolver maps names to directory ids.
type PeopleResolver interface {
	Resolve(ctx context.Context, names []string) (ids, unresolved []string, err error)
}

// Pipeline finalizes completed sessions.
type Pipeline struct {
	records        RecordStore
	channels       Channels
	people         PeopleResolver
	folders        FolderProvisioner
	contexts       *chancontext.Cache
	defaultMembers []string
	now            func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFolders enables folder provisioning. Without it every intake gets the
// placeholder link.
func WithFolders(f FolderProvisioner) Option {
	return func(p *Pipeline) { p.folders = f }
}

// WithPeople sets the directory person answers are resolved against.
func WithPeople(r PeopleResolver) Option {
	return func(p *Pipeline) { p.people = r }
}

// WithChannelContext remembers created channels for the upload prompt.
func WithChannelContext(c *chancontext.Cache) Option {
	return func(p *Pipeline) { p.contexts = c }
}

// WithDefaultMembers sets the users invited to every new channel.
func WithDefaultMembers(userIDs []string) Option {
	return func(p *Pipeline) { p.defaultMembers = userIDs }
}

// WithClock overrides the clock used for the year in titles.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a pipeline.
func New(records RecordStore, channels Channels, opts ...Option) *Pipeline {
	p := &Pipeline{records: records, channels: channels, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Finalize runs the side effects for s. It posts the outcome, success or
// failure, to the session thread. Only a constraint violation or a failed
// numbering or record step returns an error; the other steps degrade into
// warnings on the result.
func (p *Pipeline) Finalize(ctx context.Context, s *session.Session) (*models.FinalizationResult, error) {
	rt := s.Flow
	log := slog.With("requester", s.RequesterID, "flow", rt.Key, "variant", rt.Selector)

	for _, c := range rt.Constraints {
		if err := c.Check(s.Answers); err != nil {
			log.Info("Pipeline.Finalize: constraint failed", "error", err)
			p.report(ctx, s, validationMessage(err))
			return nil, err
		}
	}

	title, err := p.nextTitle(ctx, rt, s)
	if err != nil {
		log.Error("Pipeline.Finalize: numbering failed", "error", err, "collection", rt.CollectionID)
		p.report(ctx, s, failureMessage(err))
		return nil, err
	}
	res := &models.FinalizationResult{Title: title, ChannelName: ChannelName(rt.ChannelPrefix, title)}
	log = log.With("title", title)

	resolved := p.resolvePeople(ctx, rt, s, res)
	p.provisionFolder(ctx, rt, title, res)

	props := buildProperties(rt, s.Answers, resolved, title, res)
	rec, err := p.records.CreateRecord(ctx, rt.CollectionID, props)
	if err != nil {
		log.Error("Pipeline.Finalize: record creation failed", "error", err, "kind", models.IntegrationKindOf(err))
		p.report(ctx, s, failureMessage(err))
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	res.RecordID, res.RecordURL = rec.ID, rec.URL
	log.Info("Pipeline.Finalize: record created", "record", rec.ID)

	p.setupChannel(ctx, s, res)

	p.report(ctx, s, summaryMessage(rt, s, res, false))
	log.Info("Pipeline.Finalize: done", "channel", res.ChannelID, "warnings", len(res.Warnings), "unresolved", len(res.Unresolved))
	return res, nil
}

// nextTitle numbers the title as <prefix><yy><seq>_<answer>.
func (p *Pipeline) nextTitle(ctx context.Context, rt *flow.Runtime, s *session.Session) (string, error) {
	yy := p.now().Format("06")
	pattern := SequencePattern(rt.TitlePrefix, yy)

	var titles []string
	cursor := ""
	for {
		page, err := p.records.QueryRecords(ctx, rt.CollectionID, cursor)
		if err != nil {
			return "", fmt.Errorf("failed to query records: %w", err)
		}
		for _, r := range page.Items {
			titles = append(titles, r.Title)
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
	}

	number := FormatNumber(rt.TitlePrefix, yy, MaxSequence(pattern, titles)+1)
	name := strings.TrimSpace(s.Answers[rt.TitleFrom].Text)
	if name == "" {
		return number, nil
	}
	return number + "_" + name, nil
}

func (p *Pipeline) resolvePeople(ctx context.Context, rt *flow.Runtime, s *session.Session, res *models.FinalizationResult) map[string][]string {
	resolved := make(map[string][]string)
	for _, q := range rt.AllQuestions() {
		v, ok := s.Answers[q.Key]
		if !ok || v.Empty() || !q.IsPerson() || q.PropertyType != models.PropertyPeople {
			continue
		}
		if p.people == nil {
			res.Unresolved = append(res.Unresolved, v.List...)
			continue
		}
		ids, unresolved, err := p.people.Resolve(ctx, v.List)
		if err != nil {
			slog.Warn("Pipeline.resolvePeople: directory unavailable", "error", err, "question", q.Key)
			addWarning(res, "The people directory could not be loaded.")
		}
		resolved[q.Key] = ids
		res.Unresolved = append(res.Unresolved, unresolved...)
	}
	return resolved
}

func (p *Pipeline) provisionFolder(ctx context.Context, rt *flow.Runtime, title string, res *models.FinalizationResult) {
	fallback := func(warning string) {
		res.FolderURL = rt.PlaceholderURL
		res.FolderPlaceholder = true
		addWarning(res, warning)
	}
	if p.folders == nil {
		fallback("Folder provisioning is not configured; a placeholder link was used.")
		return
	}
	folder, err := p.folders.EnsureFolder(ctx, rt.FolderParent, FolderName(title))
	if err != nil {
		slog.Warn("Pipeline.provisionFolder: folder creation failed", "error", err, "parent", rt.FolderParent)
		fallback("The folder could not be created; a placeholder link was used.")
		return
	}
	link, err := p.folders.CreateShareLink(ctx, folder.ID)
	if err != nil {
		slog.Warn("Pipeline.provisionFolder: share link failed", "error", err, "folder", folder.ID)
		fallback("The folder was created but could not be shared; a placeholder link was used.")
		return
	}
	res.FolderURL = link
	slog.Debug("Pipeline.provisionFolder: folder ready", "path", folder.Path, "folder", folder.ID)
	res.FolderID = folder.ID
}

// setupChannel creates or reuses the collaboration channel. Failures only add
// warnings.
func (p *Pipeline) setupChannel(ctx context.Context, s *session.Session, res *models.FinalizationResult) {
	log := slog.With("channel", res.ChannelName)

	ch, err := p.channels.CreateChannel(ctx, res.ChannelName, true)
	if errors.Is(err, models.ErrChannelCreationRestricted) {
		log.Info("Pipeline.setupChannel: private channels restricted, creating public")
		ch, err = p.channels.CreateChannel(ctx, res.ChannelName, false)
	}
	if errors.Is(err, models.ErrChannelNameTaken) {
		log.Info("Pipeline.setupChannel: channel exists, reusing")
		ch, err = p.channels.FindChannelByName(ctx, res.ChannelName)
	}
	if err != nil {
		log.Warn("Pipeline.setupChannel: no channel", "error", err)
		addWarning(res, "The channel #"+res.ChannelName+" could not be created.")
		return
	}
	res.ChannelID = ch.ID

	p.invite(ctx, ch.ID, append(append([]string(nil), p.defaultMembers...), s.RequesterID), res)

	if res.RecordURL != "" {
		if err := p.channels.SetTopic(ctx, ch.ID, res.RecordURL); err != nil {
			log.Warn("Pipeline.setupChannel: failed to set topic", "error", err)
		}
	}
	if res.FolderURL != "" && !res.FolderPlaceholder {
		if err := p.channels.SetPurpose(ctx, ch.ID, res.FolderURL); err != nil {
			log.Warn("Pipeline.setupChannel: failed to set purpose", "error", err)
		}
	}
	if _, err := p.channels.PostMessage(ctx, models.Message{ChannelID: ch.ID, Text: summaryMessage(s.Flow, s, res, true)}); err != nil {
		log.Warn("Pipeline.setupChannel: failed to post summary", "error", err)
	}
	if p.contexts != nil {
		p.contexts.Set(ch.ID, chancontext.Entry{RecordURL: res.RecordURL, FolderURL: res.FolderURL, FolderID: res.FolderID})
	}
}

// invite adds users in one call and falls back to one call per user when the
// batch fails, since one member already present fails the whole batch.
func (p *Pipeline) invite(ctx context.Context, channelID string, userIDs []string, res *models.FinalizationResult) {
	users := dedupe(userIDs)
	if len(users) == 0 {
		return
	}
	err := p.channels.InviteUsers(ctx, channelID, users...)
	if err == nil {
		return
	}
	slog.Debug("Pipeline.invite: batch invite failed, inviting individually", "error", err, "channel", channelID)
	for _, u := range users {
		if err := p.channels.InviteUsers(ctx, channelID, u); err != nil && !errors.Is(err, models.ErrAlreadyInChannel) {
			slog.Warn("Pipeline.invite: failed to invite user", "error", err, "user", u, "channel", channelID)
			addWarning(res, fmt.Sprintf("<@%s> could not be invited to the channel.", u))
		}
	}
}

func (p *Pipeline) report(ctx context.Context, s *session.Session, text string) {
	if _, err := p.channels.PostMessage(ctx, models.Message{ChannelID: s.ChannelID, ThreadID: s.ThreadID, Text: text}); err != nil {
		slog.Error("Pipeline.report: failed to post to thread", "error", err, "requester", s.RequesterID, "thread", s.ThreadID)
	}
}

func addWarning(res *models.FinalizationResult, w string) {
	for _, existing := range res.Warnings {
		if existing == w {
			return
		}
	}
	res.Warnings = append(res.Warnings, w)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
