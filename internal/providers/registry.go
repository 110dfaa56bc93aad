package providers

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chorushq/chorus/internal/catalog"
	"github.com/chorushq/chorus/internal/errs"
	"github.com/chorushq/chorus/internal/monitoring"
	"github.com/chorushq/chorus/internal/observability"
	"github.com/chorushq/chorus/internal/rag"
)

// Registry holds the capability providers and resolves which one serves a
// request. Registration happens at startup; lookups are read-only after
// that.
type Registry struct {
	mu        sync.RWMutex
	chat      map[string]ChatProvider
	image     map[string]ImageProvider
	speech    map[string]SpeechProvider
	music     map[string]MusicProvider
	video     map[string]VideoProvider
	ocr       map[string]OCRProvider
	research  map[string]ResearchProvider
	embedding map[string]rag.Embedder

	defaults map[string]string // capability -> provider name

	catalog *catalog.Catalog
	logger  *observability.Logger
	metrics *observability.Metrics
	sink    monitoring.Sink
}

// NewRegistry creates an empty registry.
func NewRegistry(cat *catalog.Catalog, logger *observability.Logger, metrics *observability.Metrics, sink monitoring.Sink) *Registry {
	return &Registry{
		chat:      make(map[string]ChatProvider),
		image:     make(map[string]ImageProvider),
		speech:    make(map[string]SpeechProvider),
		music:     make(map[string]MusicProvider),
		video:     make(map[string]VideoProvider),
		ocr:       make(map[string]OCRProvider),
		research:  make(map[string]ResearchProvider),
		embedding: make(map[string]rag.Embedder),
		defaults:  make(map[string]string),
		catalog:   cat,
		logger:    logger,
		metrics:   metrics,
		sink:      sink,
	}
}

// Capability names used for defaults.
const (
	CapChat      = "chat"
	CapImage     = "image"
	CapSpeech    = "speech"
	CapMusic     = "music"
	CapVideo     = "video"
	CapOCR       = "ocr"
	CapResearch  = "research"
	CapEmbedding = "embedding"
)

// RegisterChat adds a chat provider. The first registration becomes the
// capability default unless SetDefault overrides it.
func (r *Registry) RegisterChat(p ChatProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat[p.Name()] = p
	if _, ok := r.defaults[CapChat]; !ok {
		r.defaults[CapChat] = p.Name()
	}
}

// RegisterImage adds an image provider.
func (r *Registry) RegisterImage(p ImageProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.image[p.Name()] = p
	if _, ok := r.defaults[CapImage]; !ok {
		r.defaults[CapImage] = p.Name()
	}
}

// RegisterSpeech adds a speech provider.
func (r *Registry) RegisterSpeech(p SpeechProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[p.Name()] = p
	if _, ok := r.defaults[CapSpeech]; !ok {
		r.defaults[CapSpeech] = p.Name()
	}
}

// RegisterMusic adds a music provider.
func (r *Registry) RegisterMusic(p MusicProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.music[p.Name()] = p
	if _, ok := r.defaults[CapMusic]; !ok {
		r.defaults[CapMusic] = p.Name()
	}
}

// RegisterVideo adds a video provider.
func (r *Registry) RegisterVideo(p VideoProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.video[p.Name()] = p
	if _, ok := r.defaults[CapVideo]; !ok {
		r.defaults[CapVideo] = p.Name()
	}
}

// RegisterOCR adds an OCR provider.
func (r *Registry) RegisterOCR(p OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ocr[p.Name()] = p
	if _, ok := r.defaults[CapOCR]; !ok {
		r.defaults[CapOCR] = p.Name()
	}
}

// RegisterResearch adds a research provider.
func (r *Registry) RegisterResearch(p ResearchProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.research[p.Name()] = p
	if _, ok := r.defaults[CapResearch]; !ok {
		r.defaults[CapResearch] = p.Name()
	}
}

// RegisterEmbedding adds an embedding provider under a name.
func (r *Registry) RegisterEmbedding(name string, e rag.Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedding[name] = e
	if _, ok := r.defaults[CapEmbedding]; !ok {
		r.defaults[CapEmbedding] = name
	}
}

// SetDefault pins the default provider for a capability.
func (r *Registry) SetDefault(capability, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[capability] = provider
}

// GetChatProvider returns the chat provider by name, or the default when
// name is empty.
func (r *Registry) GetChatProvider(name string) (ChatProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaults[CapChat]
	}
	p, ok := r.chat[name]
	if !ok {
		return nil, fmt.Errorf("chat provider %q: %w", name, errs.ErrNotFound)
	}
	return p, nil
}

// GetImageProvider returns the image provider by name or default.
func (r *Registry) GetImageProvider(name string) (ImageProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaults[CapImage]
	}
	p, ok := r.image[name]
	if !ok {
		return nil, fmt.Errorf("image provider %q: %w", name, errs.ErrNotFound)
	}
	return p, nil
}

// GetSpeechProvider returns the speech provider by name or default.
func (r *Registry) GetSpeechProvider(name string) (SpeechProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaults[CapSpeech]
	}
	p, ok := r.speech[name]
	if !ok {
		return nil, fmt.Errorf("speech provider %q: %w", name, errs.ErrNotFound)
	}
	return p, nil
}

// GetMusicProvider returns the music provider by name or default.
func (r *Registry) GetMusicProvider(name string) (MusicProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaults[CapMusic]
	}
	p, ok := r.music[name]
	if !ok {
		return nil, fmt.Errorf("music provider %q: %w", name, errs.ErrNotFound)
	}
	return p, nil
}

// GetVideoProvider returns the video provider by name or default.
func (r *Registry) GetVideoProvider(name string) (VideoProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaults[CapVideo]
	}
	p, ok := r.video[name]
	if !ok {
		return nil, fmt.Errorf("video provider %q: %w", name, errs.ErrNotFound)
	}
	return p, nil
}

// GetOCRProvider returns the OCR provider by name or default.
func (r *Registry) GetOCRProvider(name string) (OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaults[CapOCR]
	}
	p, ok := r.ocr[name]
	if !ok {
		return nil, fmt.Errorf("ocr provider %q: %w", name, errs.ErrNotFound)
	}
	return p, nil
}

// GetResearchProvider returns the research provider by name or default.
func (r *Registry) GetResearchProvider(name string) (ResearchProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaults[CapResearch]
	}
	p, ok := r.research[name]
	if !ok {
		return nil, fmt.Errorf("research provider %q: %w", name, errs.ErrNotFound)
	}
	return p, nil
}

// GetEmbeddingProvider returns the embedding provider by name or default.
func (r *Registry) GetEmbeddingProvider(name string) (rag.Embedder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaults[CapEmbedding]
	}
	e, ok := r.embedding[name]
	if !ok {
		return nil, fmt.Errorf("embedding provider %q: %w", name, errs.ErrNotFound)
	}
	return e, nil
}

// ChatOptions name the chat invocation target and its tracking identity.
type ChatOptions struct {
	// Model is the catalog (or upstream) model name to serve the request.
	// Empty means use the provider default.
	Model string

	// Provider is an explicit provider id. Empty means resolve from the
	// model, then fall back to the capability default.
	Provider string

	// Explicit marks the model/provider as a caller choice. Router-picked
	// models leave it false, which permits default-provider failover.
	Explicit bool

	UserID       uint64
	CompletionID string
}

// Chat resolves the provider for the request and streams the completion,
// instrumented with provider metrics. When neither an explicit model nor
// provider was given and the primary call fails, it retries once against
// the default provider.
func (r *Registry) Chat(ctx context.Context, opts ChatOptions, req *ChatRequest) (<-chan *Chunk, error) {
	providerName := opts.Provider
	explicit := opts.Explicit || opts.Provider != ""
	model := req.Model

	if opts.Model != "" {
		if cfg, err := r.catalog.GetModelConfigByModel(ctx, opts.Model); err == nil {
			if providerName == "" {
				providerName = cfg.Provider
			}
			model = cfg.MatchingModel
		} else {
			// Unknown to the catalog: pass it upstream as-is.
			model = opts.Model
		}
	}

	provider, err := r.GetChatProvider(providerName)
	if err != nil {
		return nil, err
	}

	invokeReq := *req
	invokeReq.Model = model
	chunks, err := provider.Complete(ctx, &invokeReq)
	if err == nil {
		return r.instrument(ctx, provider.Name(), model, opts, chunks), nil
	}
	if explicit {
		return nil, err
	}

	// Failover: one retry against the capability default.
	fallback, ferr := r.GetChatProvider("")
	if ferr != nil || fallback.Name() == provider.Name() {
		return nil, err
	}
	if r.logger != nil {
		r.logger.Warn(ctx, "chat provider failed, retrying against default",
			"provider", provider.Name(), "fallback", fallback.Name(), "error", err)
	}
	fallbackReq := *req
	fallbackReq.Model = "" // let the default provider pick its model
	chunks, err = fallback.Complete(ctx, &fallbackReq)
	if err != nil {
		return nil, err
	}
	return r.instrument(ctx, fallback.Name(), fallbackReq.Model, opts, chunks), nil
}

// instrument passes the stream through while recording latency, status,
// and token usage when the stream ends.
func (r *Registry) instrument(ctx context.Context, provider, model string, opts ChatOptions, in <-chan *Chunk) <-chan *Chunk {
	out := make(chan *Chunk)
	start := time.Now()

	go func() {
		defer close(out)
		status := "success"
		var promptTokens, completionTokens int

		for chunk := range in {
			if chunk.Err != nil {
				status = "error"
			}
			if chunk.Usage != nil {
				promptTokens = chunk.Usage.PromptTokens
				completionTokens = chunk.Usage.CompletionTokens
			}
			out <- chunk
		}

		elapsed := time.Since(start)
		if r.metrics != nil {
			r.metrics.RecordLLMRequest(provider, model, status, elapsed.Seconds(), promptTokens, completionTokens)
		}
		monitoring.Emit(ctx, r.sink, monitoring.Metric{
			Type:   monitoring.TypePerformance,
			Name:   "provider.chat",
			Value:  float64(elapsed.Milliseconds()),
			Status: monitoring.MetricStatus(status),
			Metadata: map[string]any{
				"provider":          provider,
				"model":             model,
				"user_id":           strconv.FormatUint(opts.UserID, 10),
				"completion_id":     opts.CompletionID,
				"prompt_tokens":     promptTokens,
				"completion_tokens": completionTokens,
			},
		})
	}()

	return out
}
