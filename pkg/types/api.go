package types

import (
	"encoding/json"
	"fmt"
)

// LoraWeight is a weight overlay applied for the duration of one request.
type LoraWeight struct {
	// URL or local path of the overlay weights.
	// example: https://example.com/loras/pixel-art.safetensors
	Path string `json:"path" example:"https://example.com/loras/pixel-art.safetensors"`
	// Scale applied before fusing into the base weights, within [0, 1].
	// Omitted means 1.0.
	// example: 0.8
	Scale *float64 `json:"scale,omitempty" example:"0.8"`
}

// ScaleOrDefault returns the scale, defaulting to 1.0.
func (l LoraWeight) ScaleOrDefault() float64 {
	if l.Scale == nil {
		return 1.0
	}
	return *l.Scale
}

// ImageSize is either a preset name or explicit dimensions. It decodes from
// a JSON string ("square_hd") or an object ({"width":768,"height":512}).
type ImageSize struct {
	Preset string `json:"-"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

var imageSizePresets = map[string][2]int{
	"square_hd":      {1024, 1024},
	"square":         {512, 512},
	"portrait_4_3":   {768, 1024},
	"portrait_16_9":  {576, 1024},
	"landscape_4_3":  {1024, 768},
	"landscape_16_9": {1024, 576},
}

// DefaultImageSize is used when a request omits image_size.
const DefaultImageSize = "square_hd"

// PresetImageSize returns the dimensions of a named preset.
func PresetImageSize(name string) (ImageSize, error) {
	d, ok := imageSizePresets[name]
	if !ok {
		return ImageSize{}, fmt.Errorf("unknown image size preset %q", name)
	}
	return ImageSize{Preset: name, Width: d[0], Height: d[1]}, nil
}

func (s *ImageSize) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		sz, err := PresetImageSize(name)
		if err != nil {
			return err
		}
		*s = sz
		return nil
	}
	type plain ImageSize
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("image_size must be a preset name or {width,height}: %w", err)
	}
	*s = ImageSize(p)
	return nil
}

func (s ImageSize) MarshalJSON() ([]byte, error) {
	if s.Preset != "" {
		return json.Marshal(s.Preset)
	}
	type plain ImageSize
	return json.Marshal(plain(s))
}

// GenerateRequest is the payload of POST /generate. Pointer fields
// distinguish "omitted" from an explicit zero.
type GenerateRequest struct {
	// URL, local path or hub identifier of the base model.
	// example: runwayml/stable-diffusion-v1-5
	ModelName string `json:"model_name" example:"runwayml/stable-diffusion-v1-5"`
	// Text prompt.
	// example: a lighthouse on a cliff at dusk, oil painting
	Prompt string `json:"prompt" example:"a lighthouse on a cliff at dusk, oil painting"`
	// Things to steer away from.
	// example: blurry, low resolution
	NegativePrompt string `json:"negative_prompt,omitempty" example:"blurry, low resolution"`
	// Overlays merged into the base weights for this request only.
	Loras []LoraWeight `json:"loras,omitempty"`
	// Seed for reproducibility; omitted picks a random one.
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
	// Output size; defaults to square_hd.
	ImageSize *ImageSize `json:"image_size,omitempty" swaggertype:"string" example:"square_hd"`
	// Denoising steps, 0..150. Default 30.
	// example: 30
	NumInferenceSteps *int `json:"num_inference_steps,omitempty" example:"30"`
	// Classifier-free guidance scale, 0..20. Default 7.5.
	// example: 7.5
	GuidanceScale *float64 `json:"guidance_scale,omitempty" example:"7.5"`
	// Accepted for compatibility (0..2) and ignored.
	ClipSkip int `json:"clip_skip,omitempty" example:"0"`
	// "sd" or "sdxl"; guessed from the model name when omitted.
	// example: sdxl
	ModelArchitecture string `json:"model_architecture,omitempty" example:"sdxl"`
	// Sampler name, e.g. "DPM++ 2M Karras" or "LCM".
	// example: Euler A
	Scheduler string `json:"scheduler,omitempty" example:"Euler A"`
	// "png" (default) or "jpeg".
	// example: png
	ImageFormat string `json:"image_format,omitempty" example:"png"`
	// Images per request, 1..8. Default 1.
	// example: 1
	NumImages *int `json:"num_images,omitempty" example:"1"`
	// Run the content-safety checker on the outputs.
	EnableSafetyChecker bool `json:"enable_safety_checker,omitempty"`
}

// Image describes an uploaded output image.
type Image struct {
	// Public URL of the stored file.
	// example: http://localhost:8080/files/0b9c3e0e-5d0b-4a53-a3cc-2f1f0d1a7c11.png
	URL string `json:"url" example:"http://localhost:8080/files/0b9c3e0e-5d0b-4a53-a3cc-2f1f0d1a7c11.png"`
	// example: image/png
	ContentType string `json:"content_type" example:"image/png"`
	// example: 0b9c3e0e-5d0b-4a53-a3cc-2f1f0d1a7c11.png
	FileName string `json:"file_name" example:"0b9c3e0e-5d0b-4a53-a3cc-2f1f0d1a7c11.png"`
	// example: 734211
	FileSize int64 `json:"file_size" example:"734211"`
	// example: 1024
	Width int `json:"width" example:"1024"`
	// example: 1024
	Height int `json:"height" example:"1024"`
}

// GenerateResponse is returned by POST /generate.
type GenerateResponse struct {
	Images []Image `json:"images"`
	// Seed actually used.
	// example: 42
	Seed int64 `json:"seed" example:"42"`
	// One flag per generated image; flagged images are replaced by black.
	HasNSFWConcepts []bool `json:"has_nsfw_concepts"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// Local checkpoints available without a download.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// EntryStatus summarizes one cached pipeline for /status.
type EntryStatus struct {
	// Model reference the pipeline was loaded from.
	// example: runwayml/stable-diffusion-v1-5
	Model string `json:"model" example:"runwayml/stable-diffusion-v1-5"`
	// example: sd
	Arch string `json:"arch" example:"sd"`
	// "accelerator" or "host".
	// example: accelerator
	Tier string `json:"tier" example:"accelerator"`
	// Whether a request currently holds the pipeline.
	Leased bool `json:"leased"`
	// Last time the pipeline served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Active sampler class.
	// example: EulerDiscreteScheduler
	Scheduler string `json:"scheduler,omitempty" example:"EulerDiscreteScheduler"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Cached pipelines, accelerator tier first, most recently used first.
	Entries []EntryStatus `json:"entries"`
	// Engine backend name.
	// example: sim
	Backend string `json:"backend" example:"sim"`
	// Maximum pipelines on the accelerator (0 = limited by memory only).
	// example: 2
	MaxResident int `json:"max_resident" example:"2"`
	// Host memory headroom fraction kept free when demoting.
	// example: 0.25
	HostRAMBuffer float64 `json:"host_ram_buffer" example:"0.25"`
	// Host memory currently available, in bytes (0 if unknown).
	HostAvailableBytes uint64 `json:"host_available_bytes"`
	// Host memory total, in bytes (0 if unknown).
	HostTotalBytes uint64 `json:"host_total_bytes"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// example: 3
	DemotionsTotal uint64 `json:"demotions_total" example:"3"`
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// example: 4
	OOMRetriesTotal uint64 `json:"oom_retries_total" example:"4"`
}
