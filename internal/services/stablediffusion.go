package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jwebster45206/vtt-forge/pkg/content"
	"github.com/jwebster45206/vtt-forge/pkg/errs"
)

const (
	DefaultImageBaseURL = "http://localhost:7860"
	DefaultRembgModel   = "u2net"

	renderSteps    = 20
	renderCFGScale = 7
	renderSize     = 512
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// Txt2ImgRequest is the fixed-shape render request.
type Txt2ImgRequest struct {
	Prompt     string `json:"prompt"`
	BatchSize  int    `json:"batch_size"`
	NIter      int    `json:"n_iter"`
	Steps      int    `json:"steps"`
	CFGScale   int    `json:"cfg_scale"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SendImages bool   `json:"send_images"`
}

type Txt2ImgResponse struct {
	Images []string `json:"images"`
}

type RembgRequest struct {
	InputImage   string `json:"input_image"`
	Model        string `json:"model"`
	ReturnMask   bool   `json:"return_mask"`
	AlphaMatting bool   `json:"alpha_matting"`
}

type RembgResponse struct {
	Image string `json:"image"`
}

// StableDiffusionService talks to a Stable Diffusion web UI style API with
// the rembg extension installed.
type StableDiffusionService struct {
	baseURL    string
	rembgModel string
	httpClient *http.Client
}

func NewStableDiffusionService(baseURL, rembgModel string) *StableDiffusionService {
	if baseURL == "" {
		baseURL = DefaultImageBaseURL
	}
	if rembgModel == "" {
		rembgModel = DefaultRembgModel
	}
	return &StableDiffusionService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		rembgModel: rembgModel,
		httpClient: &http.Client{},
	}
}

// Txt2Img renders one 512x512 image and returns its PNG bytes.
func (s *StableDiffusionService) Txt2Img(ctx context.Context, prompt string) ([]byte, error) {
	req := Txt2ImgRequest{
		Prompt:     prompt,
		BatchSize:  1,
		NIter:      1,
		Steps:      renderSteps,
		CFGScale:   renderCFGScale,
		Width:      renderSize,
		Height:     renderSize,
		SendImages: true,
	}
	var resp Txt2ImgResponse
	if err := s.post(ctx, errs.StageRender, "/sdapi/v1/txt2img", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Images) == 0 {
		return nil, &errs.TransportError{Stage: errs.StageRender, Err: errors.New("no images returned")}
	}
	return decodePNG(errs.StageRender, resp.Images[0])
}

// RemoveBackground sends a rendered PNG through rembg.
func (s *StableDiffusionService) RemoveBackground(ctx context.Context, png []byte) ([]byte, error) {
	req := RembgRequest{
		InputImage:   base64.StdEncoding.EncodeToString(png),
		Model:        s.rembgModel,
		ReturnMask:   false,
		AlphaMatting: false,
	}
	var resp RembgResponse
	if err := s.post(ctx, errs.StageRemoveBackground, "/rembg", req, &resp); err != nil {
		return nil, err
	}
	return decodePNG(errs.StageRemoveBackground, resp.Image)
}

func (s *StableDiffusionService) post(ctx context.Context, stage, path string, in, out any) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errs.NewTransportError(stage, fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.NewTransportError(stage, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return &errs.TransportError{
			Stage:      stage,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("API request failed: %s", strings.TrimSpace(string(body))),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errs.NewTransportError(stage, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return nil
}

func decodePNG(stage, b64 string) ([]byte, error) {
	// some servers prefix a data URL
	if i := strings.Index(b64, "base64,"); i >= 0 {
		b64 = b64[i+len("base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, &errs.TransportError{Stage: stage, Err: fmt.Errorf("decode image base64: %w", err)}
	}
	if !bytes.HasPrefix(raw, pngMagic) {
		return nil, &errs.TransportError{Stage: stage, Err: errors.New("returned image is not a PNG")}
	}
	return raw, nil
}

// ImageStep is one remote call in the image pipeline. Input is nil for the
// first step.
type ImageStep struct {
	Stage   string
	Timeout time.Duration
	Run     func(ctx context.Context, prompt string, input []byte) ([]byte, error)
}

// ImagePipeline renders an image and, on request, removes its background.
// Each step has its own timeout and a failed step is never skipped.
type ImagePipeline struct {
	render  ImageStep
	removal ImageStep
	logger  *slog.Logger
}

var _ ImageOracle = (*ImagePipeline)(nil)

// NewImagePipeline wires both steps to a Stable Diffusion service.
func NewImagePipeline(sd *StableDiffusionService, renderTimeout, removalTimeout time.Duration, logger *slog.Logger) *ImagePipeline {
	return NewImagePipelineWithSteps(
		ImageStep{
			Stage:   errs.StageRender,
			Timeout: renderTimeout,
			Run: func(ctx context.Context, prompt string, _ []byte) ([]byte, error) {
				return sd.Txt2Img(ctx, prompt)
			},
		},
		ImageStep{
			Stage:   errs.StageRemoveBackground,
			Timeout: removalTimeout,
			Run: func(ctx context.Context, _ string, input []byte) ([]byte, error) {
				return sd.RemoveBackground(ctx, input)
			},
		},
		logger,
	)
}

func NewImagePipelineWithSteps(render, removal ImageStep, logger *slog.Logger) *ImagePipeline {
	return &ImagePipeline{render: render, removal: removal, logger: logger}
}

// Render runs the render step and, when removeBackground is set, the
// removal step on its output. The returned asset always reflects the last
// step that ran.
func (p *ImagePipeline) Render(ctx context.Context, prompt string, removeBackground bool) (*content.GeneratedAsset, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("image prompt is required")
	}

	steps := []ImageStep{p.render}
	if removeBackground {
		steps = append(steps, p.removal)
	}

	var img []byte
	for _, step := range steps {
		start := time.Now()
		out, err := p.runStep(ctx, step, prompt, img)
		if err != nil {
			p.logger.Error("image step failed", "stage", step.Stage, "duration", time.Since(start), "error", err)
			return nil, err
		}
		p.logger.Debug("image step done", "stage", step.Stage, "bytes", len(out), "duration", time.Since(start))
		img = out
	}

	return &content.GeneratedAsset{
		Data:              img,
		MimeType:          "image/png",
		BackgroundRemoved: removeBackground,
	}, nil
}

func (p *ImagePipeline) runStep(ctx context.Context, step ImageStep, prompt string, input []byte) ([]byte, error) {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	out, err := step.Run(ctx, prompt, input)
	if err != nil {
		var te *errs.TransportError
		if errors.As(err, &te) {
			if te.Stage == "" {
				te.Stage = step.Stage
			}
			return nil, te
		}
		return nil, errs.NewTransportError(step.Stage, err)
	}
	if !bytes.HasPrefix(out, pngMagic) {
		return nil, &errs.TransportError{Stage: step.Stage, Err: errors.New("returned image is not a PNG")}
	}
	return out, nil
}
