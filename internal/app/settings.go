package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pmuci/pointage/internal/config"
	"github.com/pmuci/pointage/internal/domain/model"
)

// SettingsGateway persists the editable settings.
type SettingsGateway interface {
	Setting(ctx context.Context, key string) ([]byte, error)
	PutSetting(ctx context.Context, key string, value []byte) error
}

// Settings holds the effective settings: the process configuration with
// the stored general settings laid over it.
type Settings struct {
	mu   sync.RWMutex
	base model.Settings
	cur  model.Settings
	gw   SettingsGateway
}

// NewSettings starts from base until Load reads the stored overlay.
func NewSettings(base model.Settings, gw SettingsGateway) *Settings {
	return &Settings{base: base, cur: base, gw: gw}
}

// Load reads the stored general settings. Nothing stored keeps the base.
func (s *Settings) Load(ctx context.Context) error {
	raw, err := s.gw.Setting(ctx, config.GeneralKey)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	var g config.General
	if err := json.Unmarshal(raw, &g); err != nil {
		return fmt.Errorf("%w: stored general settings: %w", config.ErrInvalidConfig, err)
	}
	cur, err := g.Apply(s.base)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cur = cur
	s.mu.Unlock()
	return nil
}

// Current returns the effective settings.
func (s *Settings) Current() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update lays g over the effective settings and persists the result.
// Nothing changes when the gateway write fails.
func (s *Settings) Update(ctx context.Context, g config.General) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := g.Apply(s.cur)
	if err != nil {
		return model.Settings{}, err
	}
	raw, err := json.Marshal(config.GeneralOf(next))
	if err != nil {
		return model.Settings{}, fmt.Errorf("encode settings: %w", err)
	}
	if err := s.gw.PutSetting(ctx, config.GeneralKey, raw); err != nil {
		return model.Settings{}, fmt.Errorf("store settings: %w", err)
	}
	s.cur = next
	return next, nil
}
