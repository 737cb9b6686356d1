package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cardpay/internal/model"
	"cardpay/internal/repository"
)

type Timers struct {
	mu     sync.Mutex
	timers map[string]model.Timer
}

func NewTimers() *Timers {
	return &Timers{timers: make(map[string]model.Timer)}
}

func (s *Timers) Schedule(_ context.Context, timer model.Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer.CreatedAt = time.Now()
	s.timers[timer.Name] = timer
	return nil
}

func (s *Timers) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.timers, name)
	return nil
}

func (s *Timers) Due(_ context.Context, now time.Time, limit int) ([]model.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Timer
	for _, t := range s.timers {
		if !t.FireAt.After(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].FireAt.Before(out[k].FireAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get 按名称查询定时器
func (s *Timers) Get(name string) (model.Timer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[name]
	return t, ok
}

var _ repository.TimerStore = (*Timers)(nil)
