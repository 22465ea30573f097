package manager

import (
	"context"
	"strconv"

	"imaged/internal/engine"
)

// Warm loads a model into the cache and makes it resident on the
// accelerator without generating anything.
func (m *Manager) Warm(ctx context.Context, model, arch string) error {
	if model == "" {
		model = m.defaultModel
	}
	if model == "" {
		return ErrBadRequest("model is required")
	}
	path, err := m.checkpoints.Resolve(ctx, model)
	if err != nil {
		return err
	}
	if arch == "" {
		arch = engine.GuessArch(path)
	}
	key := ModelKey{Model: path, Arch: arch}
	l, err := m.Checkout(ctx, key, m.backendLoader(key))
	if err != nil {
		return err
	}
	defer l.Return()
	return m.EnsureResident(l)
}

// Switch kicks off an asynchronous Warm and returns an operation ID.
// Callers poll Status to observe the result.
func (m *Manager) Switch(ctx context.Context, model, arch string) (string, error) {
	op := "op-" + strconv.FormatUint(m.opSeq.Add(1), 10)
	go func() {
		// Detached so the warm-up survives the request that started it.
		if err := m.Warm(context.WithoutCancel(ctx), model, arch); err != nil {
			m.log.Error().Err(err).Str("op", op).Str("model", model).Msg("warm-up failed")
			m.setLastError(err)
		}
	}()
	return op, nil
}
