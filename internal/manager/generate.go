package manager

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"imaged/internal/engine"
	"imaged/internal/storage"
	"imaged/pkg/types"
)

// Request defaults and limits.
const (
	defaultSteps         = 30
	maxSteps             = 150
	defaultGuidanceScale = 7.5
	maxGuidanceScale     = 20
	maxClipSkip          = 2
	maxNumImages         = 8
)

// generation is a validated request with defaults applied.
type generation struct {
	model     string
	arch      string
	guessed   bool
	scheduler string
	format    string
	overlays  []Overlay
	safety    bool
	params    engine.Params
}

// Generate serves one text-to-image request: resolve the base weights, lease
// the cached pipeline (loading it on first use), make it resident on the
// accelerator, apply the per-call sampler and overlays, generate, revert,
// return the pipeline to the cache, then run the safety checker and upload
// the results.
func (m *Manager) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	if !m.Ready() {
		return types.GenerateResponse{}, ErrDependencyUnavailable("manager is not ready")
	}
	g, err := m.prepare(req)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	path, err := m.checkpoints.Resolve(ctx, g.model)
	if err != nil {
		m.setLastError(err)
		return types.GenerateResponse{}, err
	}
	if g.guessed {
		g.arch = engine.GuessArch(path)
		m.log.Info().Str("model", path).Str("arch", g.arch).Msg("guessing architecture; set model_architecture if this is wrong")
	}
	if req.ClipSkip > 0 {
		m.log.Info().Int("clip_skip", req.ClipSkip).Msg("clip_skip is not supported and will be ignored")
	}
	key := ModelKey{Model: path, Arch: g.arch}

	lease, err := m.Checkout(ctx, key, m.backendLoader(key))
	if err != nil {
		m.setLastError(err)
		return types.GenerateResponse{}, err
	}
	imgs, err := m.generateLeased(ctx, lease, g)
	lease.Return()
	if err != nil {
		m.setLastError(err)
		return types.GenerateResponse{}, err
	}

	flags, err := m.safety.Check(ctx, imgs, g.safety)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	for i, flagged := range flags {
		if flagged && i < len(imgs) {
			imgs[i] = blackout(imgs[i].Bounds())
		}
	}
	uploaded, err := m.upload(ctx, imgs, g.format)
	if err != nil {
		m.setLastError(err)
		return types.GenerateResponse{}, err
	}
	return types.GenerateResponse{Images: uploaded, Seed: g.params.Seed, HasNSFWConcepts: flags}, nil
}

func (m *Manager) generateLeased(ctx context.Context, l *Lease, g generation) ([]image.Image, error) {
	if err := m.EnsureResident(l); err != nil {
		return nil, err
	}
	var imgs []image.Image
	err := m.Customize(ctx, l, g.scheduler, g.overlays, func() error {
		m.log.Debug().Strs("adapters", l.Pipeline().ActiveAdapters()).Int("num_images", g.params.NumImages).Msg("generating")
		start := time.Now()
		err := m.Run(func() error {
			var err error
			imgs, err = l.Pipeline().Generate(ctx, g.params)
			return err
		}, l.Key())
		generateDuration.WithLabelValues(l.Key().Arch).Observe(time.Since(start).Seconds())
		return err
	})
	return imgs, err
}

// Customize scopes a sampler override and overlays around fn on a leased
// pipeline. The sampler is validated and swapped first, overlays are fused
// inside that scope, and both are reverted before Customize returns.
func (m *Manager) Customize(ctx context.Context, l *Lease, scheduler string, overlays []Overlay, fn func() error) error {
	return m.WithScheduler(l.Pipeline(), scheduler, func() error {
		return m.WithOverlays(ctx, l, overlays, fn)
	})
}

// prepare validates req and applies defaults.
func (m *Manager) prepare(req types.GenerateRequest) (generation, error) {
	g := generation{
		model:     strings.TrimSpace(req.ModelName),
		arch:      req.ModelArchitecture,
		scheduler: req.Scheduler,
		format:    req.ImageFormat,
		safety:    req.EnableSafetyChecker,
	}
	if g.model == "" {
		g.model = m.defaultModel
	}
	if g.model == "" {
		return g, ErrBadRequest("model_name is required")
	}
	for _, mdl := range m.ListModels() {
		if mdl.ID == g.model {
			g.model = mdl.Path
			break
		}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return g, ErrBadRequest("prompt is required")
	}
	switch {
	case g.arch == "":
		g.guessed = true
	case !engine.ValidArch(g.arch):
		return g, ErrBadRequest("model_architecture must be %q or %q", engine.ArchSD, engine.ArchSDXL)
	}
	if g.scheduler != "" {
		if _, ok := engine.LookupScheduler(g.scheduler); !ok {
			return g, ErrBadRequest("unknown scheduler %q (supported: %s)", g.scheduler, strings.Join(engine.SchedulerNames(), ", "))
		}
	}
	if g.format == "" {
		g.format = storage.FormatPNG
	}
	if !storage.ValidFormat(g.format) {
		return g, ErrBadRequest("image_format must be %q or %q", storage.FormatPNG, storage.FormatJPEG)
	}
	if req.ClipSkip < 0 || req.ClipSkip > maxClipSkip {
		return g, ErrBadRequest("clip_skip must be within [0, %d]", maxClipSkip)
	}
	for i, l := range req.Loras {
		if strings.TrimSpace(l.Path) == "" {
			return g, ErrBadRequest("loras[%d].path is required", i)
		}
		if s := l.ScaleOrDefault(); s < 0 || s > 1 {
			return g, ErrBadRequest("loras[%d].scale must be within [0, 1]", i)
		}
	}
	g.overlays = OverlaysFromRequest(req.Loras)

	p := engine.Params{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Steps:          defaultSteps,
		GuidanceScale:  defaultGuidanceScale,
		NumImages:      1,
	}
	if req.NumInferenceSteps != nil {
		p.Steps = *req.NumInferenceSteps
	}
	if p.Steps < 0 || p.Steps > maxSteps {
		return g, ErrBadRequest("num_inference_steps must be within [0, %d]", maxSteps)
	}
	if req.GuidanceScale != nil {
		p.GuidanceScale = *req.GuidanceScale
	}
	if p.GuidanceScale < 0 || p.GuidanceScale > maxGuidanceScale {
		return g, ErrBadRequest("guidance_scale must be within [0, %d]", maxGuidanceScale)
	}
	if req.NumImages != nil {
		p.NumImages = *req.NumImages
	}
	if p.NumImages < 1 || p.NumImages > maxNumImages {
		return g, ErrBadRequest("num_images must be within [1, %d]", maxNumImages)
	}
	size := req.ImageSize
	if size == nil {
		def, _ := types.PresetImageSize(types.DefaultImageSize)
		size = &def
	}
	if size.Width <= 0 || size.Height <= 0 || size.Width%8 != 0 || size.Height%8 != 0 {
		return g, ErrBadRequest("image_size width and height must be positive multiples of 8")
	}
	p.Width, p.Height = size.Width, size.Height
	// A zero seed means "pick one", as does an omitted seed.
	if req.Seed != nil && *req.Seed != 0 {
		p.Seed = *req.Seed
	} else {
		p.Seed = rand.Int64()
	}
	g.params = p
	return g, nil
}

// upload stores images on a bounded worker pool, preserving order.
func (m *Manager) upload(ctx context.Context, imgs []image.Image, format string) ([]types.Image, error) {
	if m.repo == nil {
		return nil, ErrDependencyUnavailable("no image repository configured")
	}
	out := make([]types.Image, len(imgs))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(m.uploadWorkers)
	for i, img := range imgs {
		eg.Go(func() error {
			res, err := m.repo.Upload(ectx, img, format)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func blackout(r image.Rectangle) image.Image {
	img := image.NewRGBA(r)
	draw.Draw(img, r, image.NewUniform(color.Black), r.Min, draw.Src)
	return img
}

// isSingleFile reports whether a model reference is one local weights file
// rather than a hub repository.
func isSingleFile(ref string) bool {
	l := strings.ToLower(ref)
	return strings.HasSuffix(l, ".safetensors") || strings.HasSuffix(l, ".ckpt")
}
