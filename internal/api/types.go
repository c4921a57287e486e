package api

// SDModel is one entry of the host's checkpoint list (GET /sdapi/v1/sd-models).
type SDModel struct {
	Title     string `json:"title"`      // "SubfolderA/model.safetensors [abcd1234]"
	ModelName string `json:"model_name"` // "SubfolderA/model"
	Hash      string `json:"hash,omitempty"`
	SHA256    string `json:"sha256,omitempty"`
	Filename  string `json:"filename"` // absolute path on the host
	Config    string `json:"config,omitempty"`
}

// Options is the subset of the host's settings the iterator reads and
// writes (GET/POST /sdapi/v1/options).
type Options struct {
	SDModelCheckpoint string `json:"sd_model_checkpoint"`
}

// Txt2ImgRequest is a txt2img generation request (POST /sdapi/v1/txt2img).
// OverrideSettings carries the per-batch metadata overrides, including
// the checkpoint provenance key.
type Txt2ImgRequest struct {
	Prompt            string            `json:"prompt"`
	NegativePrompt    string            `json:"negative_prompt,omitempty"`
	Steps             int               `json:"steps,omitempty"`
	Width             int               `json:"width,omitempty"`
	Height            int               `json:"height,omitempty"`
	CfgScale          float64           `json:"cfg_scale,omitempty"`
	SamplerName       string            `json:"sampler_name,omitempty"`
	Seed              int64             `json:"seed,omitempty"`
	BatchSize         int               `json:"batch_size,omitempty"`
	NIter             int               `json:"n_iter,omitempty"`
	DoNotSaveGrid     bool              `json:"do_not_save_grid,omitempty"`
	OverrideSettings  map[string]string `json:"override_settings,omitempty"`
	OverrideRestore   bool              `json:"override_settings_restore_afterwards,omitempty"`
	SaveImages        bool              `json:"save_images,omitempty"`
	SendImages        bool              `json:"send_images"`
}

// Txt2ImgResponse is the host's generation result.
type Txt2ImgResponse struct {
	Images []string `json:"images"` // base64-encoded PNGs
	Info   string   `json:"info"`   // JSON-encoded generation info, includes infotext
}

// ProgressResponse reports host-side generation progress (GET /sdapi/v1/progress).
type ProgressResponse struct {
	Progress    float64 `json:"progress"`
	EtaRelative float64 `json:"eta_relative"`
	TextInfo    string  `json:"textinfo,omitempty"`
}

// ErrorResponse represents an API error response body.
type ErrorResponse struct {
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
	Errors string `json:"errors,omitempty"`
}
