package usecases

import (
	"context"
	"errors"
	"log"

	"github.com/linyone/chatrag/internal/domain/entities"
	"github.com/linyone/chatrag/internal/domain/ports"
)

// Cascade tries providers in priority order and stops at the first one that
// answers. Providers own their retries; the cascade never retries.
type Cascade struct {
	providers []ports.Provider
	fallback  ports.Provider
	inactive  []string
}

// NewCascade creates a cascade. fallback is used when every configured
// provider fails or none is configured, and must always answer.
func NewCascade(providers []ports.Provider, fallback ports.Provider) *Cascade {
	return &Cascade{providers: providers, fallback: fallback}
}

// Run sends messages through the cascade.
func (c *Cascade) Run(ctx context.Context, messages []entities.Message, params entities.GenerationParams) entities.CascadeResult {
	var errs []entities.ProviderError
	for _, p := range c.providers {
		if !p.Configured() {
			continue
		}
		a := p.Attempt(ctx, messages, params)
		if a.Succeeded() {
			if a.Status == entities.AttemptSoftRefusal {
				log.Printf("[WARN] %s soft refusal, using substitute text", p.Name())
			}
			return entities.CascadeResult{
				Text:    a.Text,
				ModelID: p.Name() + ":" + a.Model,
				Errors:  errs,
			}
		}
		err := a.Err
		if err == nil {
			err = errors.New("no response")
		}
		log.Printf("[WARN] %s call failed: %v", p.Name(), err)
		errs = append(errs, entities.ProviderError{Provider: p.Name(), Err: err})
	}

	a := c.fallback.Attempt(ctx, messages, params)
	return entities.CascadeResult{
		Text:    a.Text,
		ModelID: c.fallback.Name() + ":" + a.Model,
		Errors:  errs,
	}
}

// WithInactive registers provider names that exist but are left out of the
// cascade, so status reports list them as not configured.
func (c *Cascade) WithInactive(names ...string) *Cascade {
	c.inactive = append(c.inactive, names...)
	return c
}

// Configured reports, per provider name, whether it will be attempted.
func (c *Cascade) Configured() map[string]bool {
	out := make(map[string]bool, len(c.providers)+len(c.inactive))
	for _, name := range c.inactive {
		out[name] = false
	}
	for _, p := range c.providers {
		out[p.Name()] = p.Configured()
	}
	return out
}

// Auth reports, for providers with optional credentials, whether they are set.
func (c *Cascade) Auth() map[string]bool {
	out := map[string]bool{}
	for _, p := range c.providers {
		if a, ok := p.(ports.AuthReporter); ok {
			out[p.Name()] = a.HasAuth()
		}
	}
	return out
}

// MaxCalls is the worst-case number of sequential upstream requests one Run
// can make.
func (c *Cascade) MaxCalls() int {
	n := 0
	for _, p := range c.providers {
		if !p.Configured() {
			continue
		}
		if m, ok := p.(ports.MultiCallProvider); ok {
			n += m.MaxCalls()
		} else {
			n++
		}
	}
	return n
}

// Fallback answers directly from the local fallback.
func (c *Cascade) Fallback(ctx context.Context, params entities.GenerationParams) entities.CascadeResult {
	a := c.fallback.Attempt(ctx, nil, params)
	return entities.CascadeResult{Text: a.Text, ModelID: c.fallback.Name() + ":" + a.Model}
}
