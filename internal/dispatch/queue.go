package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/domain"
)

// Dispatch parses one inbound frame and appends its handling to the
// identity's job chain. The job waits for every prior job of the same
// identity to settle, then runs all handlers registered for the message
// type concurrently and joins them. Jobs of different identities never
// wait on each other.
//
// A failing job resets the chain to a resolved baseline: the failure is
// logged, counted and reported to the observer, and the next message
// proceeds. There is no redelivery and no rollback of sibling handlers'
// effects.
func (h *Hub) Dispatch(uid domain.UserID, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Error().Err(err).Str("module", "dispatch.queue").Str("uid", string(uid)).Msg("bad envelope")
		return
	}
	if env.Type == "" {
		log.Warn().Str("module", "dispatch.queue").Str("uid", string(uid)).Msg("envelope without type")
		return
	}

	done := make(chan struct{})
	h.mu.Lock()
	prev := h.tails[uid]
	h.tails[uid] = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		err := h.runJob(uid, env)

		h.mu.Lock()
		if h.tails[uid] == done {
			delete(h.tails, uid)
		}
		h.mu.Unlock()

		if err != nil {
			if h.metrics != nil {
				h.metrics.HandlerFailures.Inc()
			}
			log.Error().Err(err).Str("module", "dispatch.queue").Str("uid", string(uid)).Str("type", env.Type).Msg("handler error")
			if h.observer != nil {
				h.observer(uid, env.Type, err)
			}
		}
	}()
}

func (h *Hub) runJob(uid domain.UserID, env Envelope) error {
	h.mu.RLock()
	entries := h.handlers[uid][env.Type]
	fns := make([]handlerEntry, len(entries))
	copy(fns, entries)
	h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.Dispatched.WithLabelValues(env.Type).Inc()
	}
	if len(fns) == 0 {
		log.Debug().Str("module", "dispatch.queue").Str("uid", string(uid)).Str("type", env.Type).Msg("no handlers")
		return nil
	}

	ctx := context.Background()
	if h.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.jobTimeout)
		defer cancel()
	}

	errs := make([]error, len(fns))
	var wg sync.WaitGroup
	for i, e := range fns {
		wg.Add(1)
		go func(i int, fn handlerEntry) {
			defer wg.Done()
			errs[i] = runHandler(ctx, uid, env.Payload, fn)
		}(i, e)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func runHandler(ctx context.Context, uid domain.UserID, payload json.RawMessage, e handlerEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return e.fn(ctx, uid, payload)
}
