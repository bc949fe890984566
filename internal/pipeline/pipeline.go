package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"aistudio2api-go/internal/apierr"
	"aistudio2api-go/internal/config"
	"aistudio2api-go/internal/monitoring"
	"aistudio2api-go/internal/monitoring/tracing"
	"aistudio2api-go/internal/relay"
	"aistudio2api-go/internal/rotation"
	"aistudio2api-go/internal/translator"
	log "github.com/sirupsen/logrus"
)

// Default wait budgets for the three strategies.
const (
	defaultHeaderTimeout  = 600 * time.Second
	defaultChunkTimeout   = 30 * time.Second
	defaultCollectTimeout = 300 * time.Second
	defaultKeepAlive      = 3 * time.Second
)

// Sender is the outbound half of the relay channel.
type Sender interface {
	Send(relay.Request) error
	SendCancel(requestID string)
	IsConnected() bool
}

// Rotor is the credential-rotation surface the pipeline drives.
type Rotor interface {
	Accept(generative bool) error
	Finalize()
	RecordFailure(status int)
	RecordSuccess()
	RecoverRelay(ctx context.Context) error
	SystemBusy() bool
}

// Exchange describes one client request on its way to the relay. The
// transforms adapt upstream payloads to the client's dialect; nil means
// verbatim passthrough.
type Exchange struct {
	Method            string
	Path              string
	Query             map[string]string
	Headers           map[string]string
	Body              []byte
	Generative        bool
	ClientWantsStream bool
	ErrFormat         apierr.Format
	// CollectTimeout overrides the buffered wait budget when positive.
	CollectTimeout time.Duration

	// TransformChunk converts one upstream stream frame into a client SSE
	// payload; ok=false suppresses the frame.
	TransformChunk func(data string) (out []byte, ok bool)
	// TransformBody converts a buffered upstream body.
	TransformBody func(status int, body []byte) ([]byte, error)
}

// Pipeline executes client requests over the relay channel: admission via
// the rotation controller, request dispatch, and one of three response
// strategies depending on the client's wish and the streaming mode.
type Pipeline struct {
	cfg      *config.Config
	settings *Settings
	mux      *relay.Mux
	sender   Sender
	rotor    Rotor
	recovery *rate.Limiter

	headerTimeout  time.Duration
	chunkTimeout   time.Duration
	collectTimeout time.Duration
	keepAlive      time.Duration
}

// New builds a pipeline with the documented wait budgets.
func New(cfg *config.Config, settings *Settings, mux *relay.Mux, sender Sender, rotor Rotor) *Pipeline {
	return &Pipeline{
		cfg:            cfg,
		settings:       settings,
		mux:            mux,
		sender:         sender,
		rotor:          rotor,
		recovery:       rate.NewLimiter(rate.Every(30*time.Second), 1),
		headerTimeout:  defaultHeaderTimeout,
		chunkTimeout:   defaultChunkTimeout,
		collectTimeout: defaultCollectTimeout,
		keepAlive:      defaultKeepAlive,
	}
}

// Execute runs one exchange to completion, writing the response to w.
func (p *Pipeline) Execute(w http.ResponseWriter, r *http.Request, ex Exchange) {
	ctx, span := tracing.StartSpan(r.Context(), "pipeline", "Execute")
	span.SetAttributes(
		attribute.String("relay.path", ex.Path),
		attribute.Bool("relay.generative", ex.Generative),
		attribute.Bool("relay.client_stream", ex.ClientWantsStream),
	)
	defer span.End()
	r = r.WithContext(ctx)

	if !p.sender.IsConnected() {
		p.tryRecovery(r.Context())
	}
	if !p.sender.IsConnected() {
		p.writeError(w, ex, apierr.New(http.StatusServiceUnavailable,
			"relay_unavailable", "server_error", "Browser relay is not connected"))
		return
	}

	if err := p.rotor.Accept(ex.Generative); err != nil {
		msg := "Credential rotation in progress, please retry shortly"
		if errors.Is(err, rotation.ErrUnavailable) {
			msg = "Credential rotation failed and could not be rolled back; manual intervention required"
		}
		p.writeError(w, ex, apierr.New(http.StatusServiceUnavailable,
			"rotation_in_progress", "server_error", msg))
		return
	}
	defer p.rotor.Finalize()

	switch {
	case ex.ClientWantsStream && p.settings.StreamingMode() == config.StreamReal:
		p.runReal(w, r, ex)
	case ex.ClientWantsStream:
		p.runFake(w, r, ex)
	default:
		p.runBuffered(w, r, ex)
	}
}

// tryRecovery relaunches the browser session to reattach a lost relay. The
// limiter keeps a thundering herd of clients from stacking relaunches.
func (p *Pipeline) tryRecovery(ctx context.Context) {
	if p.rotor.SystemBusy() || !p.recovery.Allow() {
		return
	}
	log.Warn("Relay disconnected; attempting browser recovery")
	if err := p.rotor.RecoverRelay(ctx); err != nil {
		log.WithError(err).Warn("Relay recovery failed")
	}
}

func (p *Pipeline) buildRequest(ex Exchange, id, mode string) relay.Request {
	resumeEnabled, resumeLimit := p.settings.Resume()
	return relay.Request{
		RequestID:         id,
		Method:            ex.Method,
		Path:              ex.Path,
		Headers:           ex.Headers,
		QueryParams:       ex.Query,
		Body:              string(ex.Body),
		StreamingMode:     mode,
		IsGenerative:      ex.Generative,
		ResumeOnProhibit:  resumeEnabled,
		ResumeLimit:       resumeLimit,
		ClientWantsStream: ex.ClientWantsStream,
	}
}

// runReal forwards upstream chunks to the client as they arrive.
func (p *Pipeline) runReal(w http.ResponseWriter, r *http.Request, ex Exchange) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		p.writeError(w, ex, apierr.New(http.StatusInternalServerError,
			"streaming_unsupported", "server_error", "Response writer does not support streaming"))
		return
	}

	id := NewRequestID()
	q := p.mux.CreateQueue(id)
	defer p.mux.RemoveQueue(id)

	if err := p.sender.Send(p.buildRequest(ex, id, relay.ModeReal)); err != nil {
		p.writeError(w, ex, apierr.New(http.StatusServiceUnavailable,
			"relay_unavailable", "server_error", "Browser relay is not connected"))
		return
	}

	ctx := r.Context()
	evt, err := q.Dequeue(ctx, p.headerTimeout)
	if err != nil {
		p.handlePreludeError(w, ex, id, err)
		return
	}

	switch evt.Type {
	case relay.EventError:
		p.recordUpstreamError(evt)
		p.writeError(w, ex, upstreamError(evt))
		return
	case relay.EventStreamEnd:
		p.writeError(w, ex, apierr.New(http.StatusBadGateway,
			"empty_stream", "server_error", "Upstream stream ended before response headers"))
		return
	}

	status := evt.Status
	if status == 0 {
		status = http.StatusOK
	}
	copyHeaders(w.Header(), evt.Headers)
	setSSEHeaders(w.Header())
	w.WriteHeader(status)
	flusher.Flush()

	for {
		evt, err := q.Dequeue(ctx, p.chunkTimeout)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				p.sender.SendCancel(id)
				log.Debugf("Client disconnected mid-stream on request %s", id)
			case errors.Is(err, relay.ErrDequeueTimeout):
				log.Warnf("No chunk within %s on request %s; terminating stream", p.chunkTimeout, id)
				writeSSEError(w, flusher, ex, apierr.New(http.StatusGatewayTimeout,
					"stream_stalled", "server_error", "Upstream stream stalled"))
			default:
				log.Warnf("Relay link lost mid-stream on request %s", id)
			}
			return
		}

		switch evt.Type {
		case relay.EventChunk:
			if fr := translator.ScrapeFinishReason(evt.Data); fr != "" {
				log.Debugf("Request %s finish reason: %s", id, fr)
			}
			if ex.TransformChunk != nil {
				if out, ok := ex.TransformChunk(evt.Data); ok {
					writeSSEData(w, flusher, out)
				}
			} else {
				writeRaw(w, flusher, evt.Data)
			}
		case relay.EventError:
			p.recordUpstreamError(evt)
			writeSSEError(w, flusher, ex, upstreamError(evt))
			return
		case relay.EventStreamEnd:
			p.rotor.RecordSuccess()
			if ex.TransformChunk != nil {
				writeSSEDone(w, flusher)
			}
			return
		}
	}
}

// runFake buffers the upstream response and synthesises an SSE stream,
// emitting keep-alive comments while the relay works.
func (p *Pipeline) runFake(w http.ResponseWriter, r *http.Request, ex Exchange) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		p.writeError(w, ex, apierr.New(http.StatusInternalServerError,
			"streaming_unsupported", "server_error", "Response writer does not support streaming"))
		return
	}

	setSSEHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := func() {
		_, _ = w.Write([]byte(": keep-alive\n\n"))
		flusher.Flush()
	}

	status, body, apiErr := p.collect(r.Context(), ex, heartbeat)
	if apiErr != nil {
		writeSSEError(w, flusher, ex, apiErr)
		return
	}

	out := body
	if ex.TransformBody != nil {
		var err error
		out, err = ex.TransformBody(status, body)
		if err != nil {
			writeSSEError(w, flusher, ex, apierr.New(http.StatusBadGateway,
				"bad_upstream_response", "server_error", err.Error()))
			return
		}
	}
	writeSSEData(w, flusher, out)
	writeSSEDone(w, flusher)
}

// runBuffered waits for the whole upstream response and returns it as one
// JSON body with the upstream status.
func (p *Pipeline) runBuffered(w http.ResponseWriter, r *http.Request, ex Exchange) {
	status, body, apiErr := p.collect(r.Context(), ex, nil)
	if apiErr != nil {
		p.writeError(w, ex, apiErr)
		return
	}

	out := body
	if ex.TransformBody != nil {
		var err error
		out, err = ex.TransformBody(status, body)
		if err != nil {
			p.writeError(w, ex, apierr.New(http.StatusBadGateway,
				"bad_upstream_response", "server_error", err.Error()))
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(out)
}

// collect runs the relay request in fake mode and accumulates the response
// body, retrying on upstream errors up to the configured budget. heartbeat,
// when non-nil, fires on every idle keep-alive tick.
func (p *Pipeline) collect(ctx context.Context, ex Exchange, heartbeat func()) (int, []byte, *apierr.APIError) {
	attempts := p.cfg.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		status, body, evt, err := p.collectOnce(ctx, ex, heartbeat)
		if err == nil {
			p.rotor.RecordSuccess()
			return status, body, nil
		}

		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			// Client gone. No retry, no failure accounting.
			return 0, nil, apierr.New(499, "client_disconnected", "server_error", "Client disconnected")
		case errors.Is(err, relay.ErrQueueClosed):
			return 0, nil, apierr.New(http.StatusBadGateway,
				"relay_lost", "server_error", "Browser relay connection lost")
		case errors.Is(err, relay.ErrDequeueTimeout):
			return 0, nil, apierr.New(http.StatusGatewayTimeout,
				"upstream_timeout", "server_error", "Upstream response timed out")
		}

		// Upstream error event. Aborted requests are never retried.
		aborted := strings.Contains(strings.ToLower(evt.Message), "aborted")
		if aborted {
			return 0, nil, upstreamError(evt)
		}
		if attempt < attempts {
			monitoring.RequestRetriesTotal.Inc()
			log.Warnf("Upstream error (status %d: %s); retry %d/%d after %dms",
				evt.Status, evt.Message, attempt, attempts-1, p.cfg.RetryDelayMs)
			if !sleepCtx(ctx, time.Duration(p.cfg.RetryDelayMs)*time.Millisecond) {
				return 0, nil, apierr.New(499, "client_disconnected", "server_error", "Client disconnected")
			}
			continue
		}
		p.recordUpstreamError(evt)
		return 0, nil, upstreamError(evt)
	}
	return 0, nil, apierr.New(http.StatusInternalServerError,
		"internal", "server_error", "Request pipeline exhausted")
}

var errUpstream = errors.New("upstream error event")

// collectOnce runs a single fake-mode attempt. On an upstream error event it
// returns errUpstream with the event for retry policy decisions.
func (p *Pipeline) collectOnce(ctx context.Context, ex Exchange, heartbeat func()) (int, []byte, relay.Event, error) {
	id := NewRequestID()
	q := p.mux.CreateQueue(id)
	defer p.mux.RemoveQueue(id)

	if err := p.sender.Send(p.buildRequest(ex, id, relay.ModeFake)); err != nil {
		return 0, nil, relay.Event{}, relay.ErrQueueClosed
	}

	wait := p.collectTimeout
	if ex.CollectTimeout > 0 {
		wait = ex.CollectTimeout
	}
	deadline := time.Now().Add(wait)
	status := http.StatusOK
	var body strings.Builder

	for {
		evt, err := q.Dequeue(ctx, p.keepAlive)
		if err != nil {
			if errors.Is(err, relay.ErrDequeueTimeout) {
				if time.Now().After(deadline) {
					p.sender.SendCancel(id)
					return 0, nil, relay.Event{}, relay.ErrDequeueTimeout
				}
				if heartbeat != nil {
					heartbeat()
				}
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				p.sender.SendCancel(id)
			}
			return 0, nil, relay.Event{}, err
		}

		switch evt.Type {
		case relay.EventResponseHeaders:
			if evt.Status != 0 {
				status = evt.Status
			}
		case relay.EventChunk:
			body.WriteString(evt.Data)
		case relay.EventError:
			return 0, nil, evt, errUpstream
		case relay.EventStreamEnd:
			return status, []byte(body.String()), relay.Event{}, nil
		}
	}
}

// recordUpstreamError feeds the rotation failure counter. Transport losses
// never reach here; only genuine upstream error events count.
func (p *Pipeline) recordUpstreamError(evt relay.Event) {
	if strings.Contains(strings.ToLower(evt.Message), "aborted") {
		return
	}
	p.rotor.RecordFailure(evt.Status)
}

func (p *Pipeline) handlePreludeError(w http.ResponseWriter, ex Exchange, id string, err error) {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		p.sender.SendCancel(id)
	case errors.Is(err, relay.ErrDequeueTimeout):
		p.writeError(w, ex, apierr.New(http.StatusGatewayTimeout,
			"upstream_timeout", "server_error", "Upstream response timed out"))
	default:
		p.writeError(w, ex, apierr.New(http.StatusBadGateway,
			"relay_lost", "server_error", "Browser relay connection lost"))
	}
}

func (p *Pipeline) writeError(w http.ResponseWriter, ex Exchange, apiErr *apierr.APIError) {
	payload, err := apiErr.ToJSON(ex.ErrFormat)
	if err != nil {
		http.Error(w, apiErr.Message, apiErr.HTTPStatus)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus)
	_, _ = w.Write(payload)
}

func upstreamError(evt relay.Event) *apierr.APIError {
	status := evt.Status
	if status == 0 {
		status = http.StatusBadGateway
	}
	msg := evt.Message
	if msg == "" {
		msg = "Upstream request failed"
	}
	return apierr.New(status, "upstream_error", "server_error", msg)
}

// sleepCtx waits d or until ctx is done; it reports whether the full wait
// completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
