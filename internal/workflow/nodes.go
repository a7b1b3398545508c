package workflow

// Node type tables curated from real-world ComfyUI workflows. Membership
// checks happen on every trace hop, so these are maps rather than slices.

// samplerTypes are nodes that perform actual sampling. Helper nodes like
// KSamplerSelect only provide a sampler name and are excluded.
var samplerTypes = map[string]bool{
	"KSampler":               true,
	"KSamplerAdvanced":       true,
	"SamplerCustom":          true,
	"SamplerCustomAdvanced":  true,
	"KSamplerEfficient":      true,
	"DetailerForEach":        true,
	"SamplerDPMPP_2M_SDE":    true,
	"WanVideoSampler":        true,
	"UltimateSDUpscale":      true,
}

// modelLoaderTypes are checkpoint, UNET and diffusion model loaders.
var modelLoaderTypes = map[string]bool{
	"CheckpointLoaderSimple": true,
	"CheckpointLoader":       true,
	"Load Checkpoint":        true,
	"UNETLoader":             true,
	"Load Diffusion Model":   true,
	"UnetLoaderGGUF":         true,
	"DualCLIPLoader":         true,
}

// promptNodeTypes are text encoding nodes carrying the prompt text.
var promptNodeTypes = map[string]bool{
	"CLIPTextEncode":             true,
	"CLIP Text Encode (Prompt)":  true,
	"TextEncodeQwenImageEditPlus": true,
	"CLIPTextEncodeSDXL":         true,
	"CLIPTextEncodeSDXLRefiner":  true,
}

// schedulerNodeTypes provide the scheduling algorithm via a sigmas output.
var schedulerNodeTypes = map[string]bool{
	"BasicScheduler":       true,
	"KarrasScheduler":      true,
	"ExponentialScheduler": true,
	"SgmUniformScheduler":  true,
}

// samplerSelectNodeTypes provide sampler names, not actual sampling.
var samplerSelectNodeTypes = map[string]bool{
	"KSamplerSelect": true,
}

// latentSizeNodeTypes expose width/height widgets for output dimensions.
var latentSizeNodeTypes = map[string]bool{
	"EmptyLatentImage":    true,
	"EmptySD3LatentImage": true,
	"WanImageToVideo":     true,
}

// positionalWidgets maps known node types to the fixed order of their
// widgets_values entries. Used in the UI format when the document carries
// no widget_idx_map entry for a node.
var positionalWidgets = map[string]map[string]int{
	"KSampler": {
		"seed":                   0,
		"control_after_generate": 1,
		"steps":                  2,
		"cfg":                    3,
		"sampler_name":           4,
		"scheduler":              5,
		"denoise":                6,
	},
	"KSamplerAdvanced": {
		"seed":                   0,
		"control_after_generate": 1,
		"steps":                  2,
		"cfg":                    3,
		"sampler_name":           4,
		"scheduler":              5,
		"denoise":                6,
	},
	"CLIPTextEncode":         {"text": 0},
	"CheckpointLoaderSimple": {"ckpt_name": 0},
	"UNETLoader":             {"unet_name": 0},
	"EmptyLatentImage":       {"width": 0, "height": 1, "batch_size": 2},
	"EmptySD3LatentImage":    {"width": 0, "height": 1, "batch_size": 2},
	"DualCLIPLoader":         {"clip_name1": 0, "clip_name2": 1, "type": 2},
}
