// Package settings owns the per-actor working-hours configuration.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
)

// Reader is the read half of Store. A storage transaction satisfies it.
type Reader interface {
	GetSettings(ctx context.Context, actorID string) (model.Settings, bool, error)
}

type Store interface {
	Reader
	PutSettings(ctx context.Context, s model.Settings) error
}

type Service struct {
	store    Store
	defaults model.Settings
	now      func() time.Time
}

// New returns a Service that answers with defaults for actors who never stored settings.
func New(store Store, defaults model.Settings, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, defaults: defaults, now: now}
}

func (s *Service) Get(ctx context.Context, actorID string) (model.Settings, error) {
	return s.Lookup(ctx, s.store, actorID)
}

// Lookup is Get against r, so a reservation reads settings inside its own transaction.
func (s *Service) Lookup(ctx context.Context, r Reader, actorID string) (model.Settings, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return model.Settings{}, model.Fail(model.ReasonInvalidRequest, "actor id is required")
	}
	stored, ok, err := r.GetSettings(ctx, actorID)
	if err != nil {
		return model.Settings{}, err
	}
	if ok {
		return stored, nil
	}
	out := s.defaults
	out.ActorID = actorID
	out.WorkingDays = append([]int(nil), s.defaults.WorkingDays...)
	return out, nil
}

// Put replaces the actor's settings. Bookings made under earlier settings stay as they are.
func (s *Service) Put(ctx context.Context, in model.Settings) (model.Settings, error) {
	in.ActorID = strings.TrimSpace(in.ActorID)
	if in.ActorID == "" {
		return model.Settings{}, model.Fail(model.ReasonInvalidRequest, "actor id is required")
	}
	if err := Validate(in); err != nil {
		return model.Settings{}, err
	}
	in.WorkingDays = normalizeDays(in.WorkingDays)
	in.UpdatedAt = s.now().UTC()
	if err := s.store.PutSettings(ctx, in); err != nil {
		return model.Settings{}, err
	}
	return in, nil
}

var validate = validator.New()

// Validate checks field ranges and the rules that span fields.
func Validate(in model.Settings) error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return model.Fail(model.ReasonInvalidRequest, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return model.Wrap(model.ReasonInvalidRequest, err)
	}
	if _, err := tzconv.New(in.Timezone); err != nil {
		return model.Wrap(model.ReasonInvalidRequest, err)
	}
	if in.DailyStartTime < 0 || in.DailyEndTime > tzconv.EndOfDay {
		return model.Fail(model.ReasonInvalidRequest, "working hours must lie within one day")
	}
	if in.DailyStartTime >= in.DailyEndTime {
		return model.Fail(model.ReasonInvalidRequest, "dailyStartTime must be before dailyEndTime")
	}
	return nil
}

func normalizeDays(days []int) []int {
	seen := map[int]bool{}
	out := make([]int, 0, len(days))
	for _, d := range days {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Ints(out)
	return out
}
