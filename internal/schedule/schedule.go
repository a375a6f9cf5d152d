// Package schedule fires the schedule trigger from cron expressions and
// fixed intervals in serve mode.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/destryteeter/botlab/pkg/logx"
)

// Entry maps a schedule id to a spec string.
type Entry struct {
	ID   string
	Spec string
}

// FireFunc receives the schedule id of every firing.
type FireFunc func(ctx context.Context, scheduleID string)

// Service owns a cron instance and re-registers its entries on Apply.
type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	fire   FireFunc

	c       *cron.Cron
	ctx     context.Context
	entries []Entry
	ids     map[string]cron.EntryID
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(fire FireFunc, opts ...Option) *Service {
	s := &Service{
		log: logx.Nop(),
		loc: time.Local,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		fire:   fire,
		ids:    map[string]cron.EntryID{},
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("component", "schedule"))
	return s
}

// Validate parses every entry without registering anything.
func (s *Service) Validate(entries []Entry) error {
	seen := map[string]bool{}
	for _, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return fmt.Errorf("schedule id required")
		}
		if seen[id] {
			return fmt.Errorf("duplicate schedule id %q", id)
		}
		seen[id] = true
		if _, err := s.build(e.Spec); err != nil {
			return fmt.Errorf("schedule %s: %w", id, err)
		}
	}
	return nil
}

func (s *Service) build(spec string) (cron.Schedule, error) {
	p, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	if p.Kind == SpecInterval {
		return cron.Every(p.Every), nil
	}
	return s.parser.Parse(p.Cron)
}

// Apply replaces the registered entries. Invalid entries are logged and skipped.
func (s *Service) Apply(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]Entry(nil), entries...)
	if s.c != nil {
		s.registerLocked()
	}
}

func (s *Service) registerLocked() {
	for id, eid := range s.ids {
		s.c.Remove(eid)
		delete(s.ids, id)
	}
	for _, e := range s.entries {
		id := strings.TrimSpace(e.ID)
		sched, err := s.build(e.Spec)
		if err != nil {
			s.log.Warn("invalid schedule skipped", logx.String("schedule_id", id), logx.Err(err))
			continue
		}
		ctx := s.ctx
		eid := s.c.Schedule(sched, cron.FuncJob(func() { s.fire(ctx, id) }))
		s.ids[id] = eid
		s.log.Debug("schedule registered", logx.String("schedule_id", id), logx.String("spec", e.Spec))
	}
}

// Start begins firing. Jobs receive ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.registerLocked()
	s.c.Start()
}

// Stop halts the cron and waits for running jobs.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for id := range s.ids {
		delete(s.ids, id)
	}
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Next reports the next fire time per schedule id (started service only).
func (s *Service) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]time.Time{}
	if s.c == nil {
		return out
	}
	for id, eid := range s.ids {
		out[id] = s.c.Entry(eid).Next
	}
	return out
}

// IDs returns the registered schedule ids, sorted.
func (s *Service) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
