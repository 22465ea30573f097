package types

// Model is a checkpoint found in the local checkpoints directory.
type Model struct {
	// Stable identifier for the model (file name without extension).
	// example: dreamshaper_8
	ID string `json:"id" example:"dreamshaper_8"`
	// Human-friendly name.
	// example: dreamshaper 8
	Name string `json:"name" example:"dreamshaper 8"`
	// Absolute path to the weights file; usable as model_name.
	// example: /data/checkpoints/dreamshaper_8.safetensors
	Path string `json:"path" example:"/data/checkpoints/dreamshaper_8.safetensors"`
	// Architecture guessed from the name ("sd" or "sdxl").
	// example: sd
	Arch string `json:"arch" example:"sd"`
	// Size of the weights file in bytes.
	// example: 2132625894
	SizeBytes int64 `json:"size_bytes" example:"2132625894"`
}
