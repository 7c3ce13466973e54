// Package local implements backend.DataService in-process, over a
// store.Store and a realtime hub.
package local

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/log"
	"github.com/vovakirdan/deploydeck/internal/realtime"
	"github.com/vovakirdan/deploydeck/internal/store"
)

// DefaultScope is the conversation used when a message carries none.
const DefaultScope = "global"

// Service is the in-process data service.
type Service struct {
	store     store.Store
	publisher realtime.Publisher
	hub       *realtime.Hub
	log       *zerolog.Logger
	now       func() time.Time
}

var _ backend.DataService = (*Service)(nil)

// New builds a Service. Writes are announced through publisher; live
// subscriptions are served from hub. publisher is usually hub itself, or a
// relay that feeds hub.
func New(st store.Store, publisher realtime.Publisher, hub *realtime.Hub, logger *zerolog.Logger) *Service {
	return &Service{
		store:     st,
		publisher: publisher,
		hub:       hub,
		log:       log.OrNop(logger),
		now:       time.Now,
	}
}

// Query reads records from collection.
func (s *Service) Query(ctx context.Context, collection string, q backend.Query) ([]backend.Record, error) {
	q, err := backend.NormalizeQuery(q)
	if err != nil {
		return nil, err
	}
	opts := store.ListOptions{Descending: q.Descending, Limit: q.Limit}

	switch collection {
	case backend.CollectionMessages:
		scope := DefaultScope
		for field, value := range q.Filter {
			if field != "scope" {
				return nil, fmt.Errorf("%w: cannot filter messages by %q", backend.ErrInvalidQuery, field)
			}
			scope = value
		}
		msgs, err := s.store.ListMessages(ctx, scope, opts)
		if err != nil {
			return nil, err
		}
		out := make([]backend.Record, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, messageRecord(m))
		}
		return out, nil

	case backend.CollectionProfiles:
		var role *store.Role
		for field, value := range q.Filter {
			if field != "role" {
				return nil, fmt.Errorf("%w: cannot filter profiles by %q", backend.ErrInvalidQuery, field)
			}
			r := store.Role(value)
			role = &r
		}
		profiles, err := s.store.ListProfiles(ctx, role, opts)
		if err != nil {
			return nil, err
		}
		out := make([]backend.Record, 0, len(profiles))
		for _, p := range profiles {
			out = append(out, ProfileRecord(p))
		}
		return out, nil

	case backend.CollectionDeployments:
		var filter store.DeploymentFilter
		for field, value := range q.Filter {
			switch field {
			case "status":
				filter.Status = store.DeploymentStatus(value)
			case "region":
				filter.Region = value
			default:
				return nil, fmt.Errorf("%w: cannot filter deployments by %q", backend.ErrInvalidQuery, field)
			}
		}
		deployments, err := s.store.ListDeployments(ctx, filter, opts)
		if err != nil {
			return nil, err
		}
		out := make([]backend.Record, 0, len(deployments))
		for _, d := range deployments {
			out = append(out, deploymentRecord(d))
		}
		return out, nil
	}

	return nil, unknownCollection(collection)
}

// Insert stores rec in collection, assigning id and created_at.
func (s *Service) Insert(ctx context.Context, collection string, rec backend.Record) (backend.Record, error) {
	var (
		out backend.Record
		err error
	)
	switch collection {
	case backend.CollectionMessages:
		out, err = s.insertMessage(ctx, rec)
	case backend.CollectionDeployments:
		out, err = s.insertDeployment(ctx, rec)
	case backend.CollectionProfiles:
		return nil, fmt.Errorf("%w: profiles are created by sign-up", backend.ErrUnsupported)
	default:
		return nil, unknownCollection(collection)
	}
	if err != nil {
		return nil, err
	}

	s.announce(ctx, backend.Event{Type: backend.EventInsert, Collection: collection, Record: out})
	return out, nil
}

func (s *Service) insertMessage(ctx context.Context, rec backend.Record) (backend.Record, error) {
	msg := &store.Message{
		ID:        uuid.NewString(),
		Scope:     rec.String("scope"),
		UserID:    rec.String("user_id"),
		UserName:  rec.String("user_name"),
		Text:      rec.String("text"),
		CreatedAt: s.now().UTC(),
	}
	if msg.Scope == "" {
		msg.Scope = DefaultScope
	}
	if msg.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", backend.ErrInvalidRecord)
	}
	if msg.UserName == "" {
		return nil, fmt.Errorf("%w: user_name is required", backend.ErrInvalidRecord)
	}
	if strings.TrimSpace(msg.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", backend.ErrInvalidRecord)
	}
	for field, value := range map[string]string{
		"scope":     msg.Scope,
		"user_id":   msg.UserID,
		"user_name": msg.UserName,
		"text":      msg.Text,
	} {
		if err := backend.CheckLength(field, value); err != nil {
			return nil, err
		}
	}

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, mapStoreError(err)
	}
	return messageRecord(msg), nil
}

func (s *Service) insertDeployment(ctx context.Context, rec backend.Record) (backend.Record, error) {
	d := &store.Deployment{
		ID:          uuid.NewString(),
		ProjectName: strings.TrimSpace(rec.String("project_name")),
		Status:      store.DeploymentStatus(rec.String("status")),
		Region:      rec.String("region"),
		CreatedAt:   s.now().UTC(),
	}
	if d.ProjectName == "" {
		return nil, fmt.Errorf("%w: project_name is required", backend.ErrInvalidRecord)
	}
	if err := backend.CheckLength("project_name", d.ProjectName); err != nil {
		return nil, err
	}
	if err := backend.CheckLength("region", d.Region); err != nil {
		return nil, err
	}
	if d.Status == "" {
		d.Status = store.DeploymentProcessing
	}
	if !d.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", backend.ErrInvalidRecord, d.Status)
	}

	if err := s.store.CreateDeployment(ctx, d); err != nil {
		return nil, mapStoreError(err)
	}
	return deploymentRecord(d), nil
}

// Update changes fields of the record with id.
func (s *Service) Update(ctx context.Context, collection, id string, fields backend.Record) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: no fields to update", backend.ErrInvalidRecord)
	}

	var (
		updated backend.Record
		err     error
	)
	switch collection {
	case backend.CollectionProfiles:
		updated, err = s.updateProfile(ctx, id, fields)
	case backend.CollectionDeployments:
		updated, err = s.updateDeployment(ctx, id, fields)
	case backend.CollectionMessages:
		return fmt.Errorf("%w: messages are append-only", backend.ErrUnsupported)
	default:
		return unknownCollection(collection)
	}
	if err != nil {
		return err
	}

	s.announce(ctx, backend.Event{Type: backend.EventUpdate, Collection: collection, Record: updated})
	return nil
}

func (s *Service) updateProfile(ctx context.Context, id string, fields backend.Record) (backend.Record, error) {
	var upd store.ProfileUpdate
	for field, value := range fields {
		switch field {
		case "full_name", "avatar_url":
			v, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a string", backend.ErrInvalidRecord, field)
			}
			if err := backend.CheckLength(field, v); err != nil {
				return nil, err
			}
			if field == "full_name" {
				upd.FullName = &v
			} else {
				upd.AvatarURL = &v
			}
		case "is_premium":
			v, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: is_premium must be a boolean", backend.ErrInvalidRecord)
			}
			upd.IsPremium = &v
		case "role":
			v, _ := value.(string)
			role := store.Role(v)
			if role != store.RoleUser && role != store.RoleAdmin {
				return nil, fmt.Errorf("%w: unknown role %q", backend.ErrInvalidRecord, v)
			}
			upd.Role = &role
		default:
			return nil, fmt.Errorf("%w: field %q is not updatable", backend.ErrInvalidRecord, field)
		}
	}

	if err := s.store.UpdateProfile(ctx, id, upd); err != nil {
		return nil, mapStoreError(err)
	}
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return ProfileRecord(p), nil
}

func (s *Service) updateDeployment(ctx context.Context, id string, fields backend.Record) (backend.Record, error) {
	var status store.DeploymentStatus
	for field, value := range fields {
		if field != "status" {
			return nil, fmt.Errorf("%w: field %q is not updatable", backend.ErrInvalidRecord, field)
		}
		v, _ := value.(string)
		status = store.DeploymentStatus(v)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", backend.ErrInvalidRecord, status)
	}

	if err := s.store.UpdateDeploymentStatus(ctx, id, status); err != nil {
		return nil, mapStoreError(err)
	}
	d, err := s.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return deploymentRecord(d), nil
}

// Delete removes the record with id.
func (s *Service) Delete(ctx context.Context, collection, id string) error {
	var err error
	switch collection {
	case backend.CollectionProfiles:
		err = s.store.DeleteProfile(ctx, id)
	case backend.CollectionDeployments:
		err = s.store.DeleteDeployment(ctx, id)
	case backend.CollectionMessages:
		return fmt.Errorf("%w: messages are append-only", backend.ErrUnsupported)
	default:
		return unknownCollection(collection)
	}
	if err != nil {
		return mapStoreError(err)
	}

	s.announce(ctx, backend.Event{Type: backend.EventDelete, Collection: collection, Record: backend.Record{backend.FieldID: id}})
	return nil
}

// Subscribe delivers matching hub events to handler on a dedicated goroutine.
func (s *Service) Subscribe(ctx context.Context, collection string, filter backend.EventFilter, handler backend.Handler) (backend.Subscription, error) {
	if !backend.KnownCollection(collection) {
		return nil, unknownCollection(collection)
	}
	sub, err := s.hub.Subscribe(ctx, collection, filter)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	ls := &subscription{hub: s.hub, sub: sub, done: make(chan struct{})}
	go func() {
		defer close(ls.done)
		for ev := range sub.Events {
			handler(ev)
		}
	}()
	return ls, nil
}

// announce publishes ev; a failure does not undo the committed write.
func (s *Service) announce(ctx context.Context, ev backend.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("collection", ev.Collection).Str("type", string(ev.Type)).Msg("failed to publish realtime event")
	}
}

type subscription struct {
	hub  *realtime.Hub
	sub  *realtime.Subscriber
	once sync.Once
	done chan struct{}
}

// Unsubscribe removes the subscriber and waits for its delivery goroutine.
func (ls *subscription) Unsubscribe() error {
	ls.once.Do(func() {
		ls.hub.Unsubscribe(ls.sub)
	})
	<-ls.done
	return nil
}

// Done is closed when delivery stops, including when the hub shuts down.
func (ls *subscription) Done() <-chan struct{} {
	return ls.done
}

// ProfileRecord renders a profile without its password hash.
func ProfileRecord(p *store.Profile) backend.Record {
	return backend.Record{
		"id":         p.ID,
		"email":      p.Email,
		"full_name":  p.FullName,
		"avatar_url": p.AvatarURL,
		"is_premium": p.IsPremium,
		"role":       string(p.Role),
		"created_at": backend.FormatTime(p.CreatedAt),
	}
}

func deploymentRecord(d *store.Deployment) backend.Record {
	return backend.Record{
		"id":           d.ID,
		"project_name": d.ProjectName,
		"status":       string(d.Status),
		"region":       d.Region,
		"created_at":   backend.FormatTime(d.CreatedAt),
	}
}

func messageRecord(m *store.Message) backend.Record {
	return backend.Record{
		"id":         m.ID,
		"scope":      m.Scope,
		"user_id":    m.UserID,
		"user_name":  m.UserName,
		"text":       m.Text,
		"created_at": backend.FormatTime(m.CreatedAt),
	}
}

func unknownCollection(name string) error {
	return fmt.Errorf("%w: %q", backend.ErrUnknownCollection, name)
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", backend.ErrNotFound, err)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %v", backend.ErrConflict, err)
	}
	return err
}
