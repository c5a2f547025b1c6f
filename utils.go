package main

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"manim-server/internal/config"
	"manim-server/internal/llm"
	"manim-server/internal/render"
)

// llmConfig returns the generator settings with the rendered system prompt.
func llmConfig(cfg *config.Config) (llm.Config, error) {
	system, err := llm.SystemPrompt(cfg.Prompt, llm.PromptData{
		SceneName: cfg.Render.SceneName,
		Rules:     llm.DefaultRules,
	})
	if err != nil {
		return llm.Config{}, err
	}
	c := cfg.LLM
	c.System = system
	return c, nil
}

// withModel points base at a catalogue model.
func withModel(base llm.Config, name string) (llm.Config, error) {
	m, ok := llm.LookupModel(name)
	if !ok {
		return base, errors.Wrapf(llm.ErrUnknownProvider, "unknown model %q", name)
	}
	base.Provider = m.Provider
	base.Model = m.ID
	return base, nil
}

// newGenerators builds the default generator and a constructor for the
// models users pick per request.
func newGenerators(cfg *config.Config) (llm.Generator, func(string) (llm.Generator, error), error) {
	base, err := llmConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	gen, err := llm.New(base)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("model", gen.Name()).Msg("[LLM] Generator ready")

	perModel := func(name string) (llm.Generator, error) {
		c, err := withModel(base, name)
		if err != nil {
			return nil, err
		}
		return llm.New(c)
	}
	return gen, perModel, nil
}

// newRenderService wires the renderer with its cache, prober, events and
// state recorder. The returned function releases the cache.
func newRenderService(cfg *config.Config, recorder render.Recorder, events *render.Events) (*render.Service, func(), error) {
	root, err := filepath.Abs(cfg.Render.WorkDir)
	if err != nil {
		return nil, nil, errors.Wrap(err, "render work dir")
	}
	renderer := render.NewRenderer(&render.Workspace{Root: root}, cfg.Render.Timeout)

	closeCache := func() {}
	options := []render.ServiceOption{render.WithRecorder(recorder)}
	if events != nil {
		options = append(options, render.WithEvents(events))
	}
	if cfg.RedisURL != "" {
		cache, err := render.NewRedisCache(cfg.RedisURL, cfg.Render.CacheTTL)
		if err != nil {
			return nil, nil, err
		}
		closeCache = func() { _ = cache.Close() }
		options = append(options, render.WithCache(cache))
	} else {
		options = append(options, render.WithCache(render.NewMemoryCache()))
	}
	if prober := render.NewFFProbe(); prober != nil {
		options = append(options, render.WithProber(prober))
	} else {
		log.Warn().Msg("[RENDER] ffprobe not found, videos will not be probed")
	}

	log.Info().Str("work_dir", root).Int("concurrency", cfg.Render.Concurrency).Msg("[RENDER] Render service ready")
	return render.NewService(renderer, cfg.Render.Concurrency, options...), closeCache, nil
}
