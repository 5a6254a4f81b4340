package job

// InpaintRequest is the input document for the inpainting model.
type InpaintRequest struct {
	Prompt                string `json:"prompt"`
	VideoURL              string `json:"video_url"`
	MaskVideoURL          string `json:"mask_video_url,omitempty"`
	NegativePrompt        string `json:"negative_prompt,omitempty"`
	Task                  string `json:"task"`
	NumFrames             int    `json:"num_frames"`
	FramesPerSecond       int    `json:"frames_per_second"`
	Resolution            string `json:"resolution"`
	AspectRatio           string `json:"aspect_ratio"`
	NumInferenceSteps     int    `json:"num_inference_steps"`
	Shift                 int    `json:"shift"`
	EnableSafetyChecker   bool   `json:"enable_safety_checker"`
	EnablePromptExpansion bool   `json:"enable_prompt_expansion"`
}

// VideoToVideoRequest is the input document for the video variation model.
type VideoToVideoRequest struct {
	Prompt            string  `json:"prompt"`
	VideoURL          string  `json:"video_url"`
	Strength          float64 `json:"strength"`
	NumFrames         int     `json:"num_frames"`
	FramesPerSecond   int     `json:"frames_per_second"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	Resolution        string  `json:"resolution"`
	NumInferenceSteps int     `json:"num_inference_steps"`
}

// Source describes the uploaded inputs of a run.
type Source struct {
	VideoURL  string
	MatteURL  string // empty in video variation mode
	Width     int
	Height    int
	FrameRate float64
}

// NewInpaintRequest builds the inpainting request. Frame rate comes from the
// render and is clamped; the aspect ratio is derived from the composition.
func NewInpaintRequest(src Source, p Params) InpaintRequest {
	p = p.WithDefaults()
	return InpaintRequest{
		Prompt:                p.Prompt,
		VideoURL:              src.VideoURL,
		MaskVideoURL:          src.MatteURL,
		NegativePrompt:        p.NegativePrompt,
		Task:                  inpaintTask,
		NumFrames:             inpaintFrames,
		FramesPerSecond:       ClampFPS(src.FrameRate),
		Resolution:            p.Resolution,
		AspectRatio:           AspectRatio(src.Width, src.Height),
		NumInferenceSteps:     p.Steps,
		Shift:                 inpaintShift,
		EnableSafetyChecker:   true,
		EnablePromptExpansion: true,
	}
}

// NewVideoToVideoRequest builds the video variation request. An explicit
// frame rate in p wins over the render's.
func NewVideoToVideoRequest(src Source, p Params) VideoToVideoRequest {
	p = p.WithDefaults()
	fps := ClampFPS(src.FrameRate)
	if p.FPS > 0 {
		fps = ClampFPS(float64(p.FPS))
	}
	return VideoToVideoRequest{
		Prompt:            p.Prompt,
		VideoURL:          src.VideoURL,
		Strength:          p.Strength,
		NumFrames:         p.NumFrames,
		FramesPerSecond:   fps,
		NegativePrompt:    p.NegativePrompt,
		Resolution:        p.Resolution,
		NumInferenceSteps: p.Steps,
	}
}
