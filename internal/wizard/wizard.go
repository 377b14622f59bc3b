// Package wizard drives multi-step conversations that collect structured
// fields from free-text replies, one active conversation per user.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/memohai/promobot/internal/bounded"
	"github.com/memohai/promobot/internal/periodic"
	"github.com/memohai/promobot/internal/shard"
)

var (
	// ErrInvalidInput is wrapped by every validation failure.
	ErrInvalidInput = errors.New("wizard: invalid input")
	// ErrNoActive is returned by Advance when the user has no conversation.
	ErrNoActive = errors.New("wizard: no active conversation")
	// ErrUnknownWizard is returned by Begin for an unregistered definition.
	ErrUnknownWizard = errors.New("wizard: unknown definition")
)

// DefaultPersistTimeout bounds a persister call when Options leaves it unset.
const DefaultPersistTimeout = 10 * time.Second

// SkipInput advances past an optional field without setting it.
const SkipInput = "skip"

// Draft holds the values collected so far, keyed by field name.
type Draft map[string]string

func (d Draft) clone() Draft {
	out := make(Draft, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Field is one step of a wizard.
type Field struct {
	Name   string
	Prompt string
	// Optional fields accept SkipInput.
	Optional bool
	// Options restricts input to an enumerated set, matched case-insensitively.
	// The stored value is the option as written here.
	Options []string
	Pattern *regexp.Regexp
	// Validate may reject input or return a normalized value.
	Validate func(input string) (string, error)
}

func (f Field) accept(input string) (string, bool, error) {
	value := strings.TrimSpace(input)
	if f.Optional && strings.EqualFold(value, SkipInput) {
		return "", true, nil
	}
	if value == "" {
		return "", false, fmt.Errorf("%w: %s is required", ErrInvalidInput, f.Name)
	}
	if len(f.Options) > 0 {
		matched := ""
		for _, opt := range f.Options {
			if strings.EqualFold(opt, value) {
				matched = opt
				break
			}
		}
		if matched == "" {
			return "", false, fmt.Errorf("%w: %s must be one of %s", ErrInvalidInput, f.Name, strings.Join(f.Options, ", "))
		}
		value = matched
	}
	if f.Pattern != nil && !f.Pattern.MatchString(value) {
		return "", false, fmt.Errorf("%w: %s has an invalid format", ErrInvalidInput, f.Name)
	}
	if f.Validate != nil {
		normalized, err := f.Validate(value)
		if err != nil {
			if errors.Is(err, ErrInvalidInput) {
				return "", false, err
			}
			return "", false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		value = normalized
	}
	return value, false, nil
}

// Persister receives the draft of a completed wizard.
type Persister interface {
	Persist(ctx context.Context, userID string, draft Draft) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, userID string, draft Draft) error

func (f PersisterFunc) Persist(ctx context.Context, userID string, draft Draft) error {
	return f(ctx, userID, draft)
}

// Definition is a named, ordered list of fields.
type Definition struct {
	Name      string
	Fields    []Field
	Persister Persister
}

// Kind tells the caller what to render after a transition.
type Kind int

const (
	// KindPrompt asks for the next field.
	KindPrompt Kind = iota
	// KindInvalid re-prompts the current field; the state did not advance.
	KindInvalid
	// KindCompleted means the draft was handed to the persister and the
	// state is gone. Err carries a persistence failure, if any.
	KindCompleted
)

func (k Kind) String() string {
	switch k {
	case KindPrompt:
		return "prompt"
	case KindInvalid:
		return "invalid"
	case KindCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Result describes the outcome of Begin or Advance.
type Result struct {
	Kind   Kind
	Wizard string
	// Step is the index of the field now awaited. It equals the number of
	// fields once completed.
	Step   int
	Field  string
	Prompt string
	Draft  Draft
	Err    error
}

// State is a snapshot of one user's conversation.
type State struct {
	Wizard    string
	Step      int
	Draft     Draft
	UpdatedAt time.Time
}

// Options configures a Store.
type Options struct {
	// IdleTTL drops conversations untouched for this long. Zero keeps them
	// until completion or cancel.
	IdleTTL       time.Duration
	SweepInterval time.Duration
	// PersistTimeout bounds each persister call.
	PersistTimeout time.Duration
	Now            func() time.Time
}

// Store holds at most one conversation per user.
type Store struct {
	defs           map[string]Definition
	states         *shard.Map[*State]
	idleTTL        time.Duration
	sweepInterval  time.Duration
	persistTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// New creates a Store with the given definitions.
func New(log *slog.Logger, opts Options, defs ...Definition) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	persistTimeout := opts.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = DefaultPersistTimeout
	}
	s := &Store{
		defs:           map[string]Definition{},
		states:         shard.New[*State](shard.DefaultCount),
		idleTTL:        opts.IdleTTL,
		sweepInterval:  sweep,
		persistTimeout: persistTimeout,
		now:            now,
		logger:         log.With(slog.String("component", "wizard")),
	}
	for _, def := range defs {
		if strings.TrimSpace(def.Name) == "" {
			return nil, fmt.Errorf("wizard name is required")
		}
		if len(def.Fields) == 0 {
			return nil, fmt.Errorf("wizard %s has no fields", def.Name)
		}
		if _, dup := s.defs[def.Name]; dup {
			return nil, fmt.Errorf("wizard %s registered twice", def.Name)
		}
		s.defs[def.Name] = def
	}
	return s, nil
}

func (s *Store) idle(st *State, now time.Time) bool {
	return s.idleTTL > 0 && now.Sub(st.UpdatedAt) > s.idleTTL
}

// Begin starts wizard name for userID, replacing any active conversation,
// and returns the first prompt.
func (s *Store) Begin(userID, name string) (Result, error) {
	def, ok := s.defs[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownWizard, name)
	}
	st := &State{Wizard: name, Draft: Draft{}, UpdatedAt: s.now()}
	replaced := false
	s.states.Do(userID, func(items map[string]*State) {
		_, replaced = items[userID]
		items[userID] = st
	})
	if replaced {
		s.logger.Debug("wizard replaced", slog.String("user_id", userID), slog.String("wizard", name))
	}
	first := def.Fields[0]
	return Result{Kind: KindPrompt, Wizard: name, Field: first.Name, Prompt: first.Prompt, Draft: Draft{}}, nil
}

// HasActive reports whether userID has a live conversation.
func (s *Store) HasActive(userID string) bool {
	_, ok := s.Active(userID)
	return ok
}

// Active returns a copy of the user's conversation state.
func (s *Store) Active(userID string) (State, bool) {
	now := s.now()
	var out State
	found := false
	s.states.Do(userID, func(items map[string]*State) {
		st := items[userID]
		if st == nil {
			return
		}
		if s.idle(st, now) {
			delete(items, userID)
			return
		}
		out = State{Wizard: st.Wizard, Step: st.Step, Draft: st.Draft.clone(), UpdatedAt: st.UpdatedAt}
		found = true
	})
	return out, found
}

// Advance feeds one reply into the user's conversation. Invalid input
// re-prompts without advancing. On the last field the state is deleted and
// the draft handed to the persister; a persister error is reported in
// Result.Err and is not retried.
func (s *Store) Advance(ctx context.Context, userID, input string) (Result, error) {
	now := s.now()
	var (
		res       Result
		persister Persister
		noActive  bool
	)
	s.states.Do(userID, func(items map[string]*State) {
		st := items[userID]
		if st == nil || s.idle(st, now) {
			delete(items, userID)
			noActive = true
			return
		}
		def := s.defs[st.Wizard]
		field := def.Fields[st.Step]
		value, skipped, err := field.accept(input)
		if err != nil {
			st.UpdatedAt = now
			res = Result{Kind: KindInvalid, Wizard: st.Wizard, Step: st.Step, Field: field.Name, Prompt: field.Prompt, Draft: st.Draft.clone(), Err: err}
			return
		}
		if !skipped {
			st.Draft[field.Name] = value
		}
		st.Step++
		st.UpdatedAt = now
		if st.Step >= len(def.Fields) {
			delete(items, userID)
			persister = def.Persister
			res = Result{Kind: KindCompleted, Wizard: st.Wizard, Step: st.Step, Draft: st.Draft.clone()}
			return
		}
		next := def.Fields[st.Step]
		res = Result{Kind: KindPrompt, Wizard: st.Wizard, Step: st.Step, Field: next.Name, Prompt: next.Prompt, Draft: st.Draft.clone()}
	})
	if noActive {
		return Result{}, ErrNoActive
	}
	if res.Kind == KindCompleted && persister != nil {
		draft := res.Draft.clone()
		err := bounded.Call(ctx, s.persistTimeout, func(ctx context.Context) error {
			return persister.Persist(ctx, userID, draft)
		})
		if err != nil {
			s.logger.Error("wizard persist failed", slog.String("user_id", userID), slog.String("wizard", res.Wizard), slog.Any("error", err))
			res.Err = err
		}
	}
	return res, nil
}

// Cancel deletes the user's conversation and reports whether one existed.
func (s *Store) Cancel(userID string) bool {
	return s.states.Delete(userID)
}

// Sweep drops idle conversations.
func (s *Store) Sweep() int {
	if s.idleTTL <= 0 {
		return 0
	}
	now := s.now()
	return s.states.Prune(func(_ string, st *State) bool {
		return s.idle(st, now)
	})
}

// Len returns the number of stored conversations.
func (s *Store) Len() int {
	return s.states.Len()
}

// Start runs Sweep periodically until ctx is done or the handle is stopped.
func (s *Store) Start(ctx context.Context) *periodic.Handle {
	return periodic.Every(ctx, s.sweepInterval, func(context.Context) {
		if removed := s.Sweep(); removed > 0 {
			s.logger.Info("abandoned wizards dropped", slog.Int("removed", removed))
		}
	})
}
