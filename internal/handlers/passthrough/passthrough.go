package passthrough

import (
	"io"
	"strings"

	"aistudio2api-go/internal/apierr"
	"aistudio2api-go/internal/pipeline"
	"aistudio2api-go/internal/translator"
	"github.com/gin-gonic/gin"
)

// Handler forwards Google API requests to the relay verbatim: any path,
// any method, body untouched except for the opt-in request tweaks.
type Handler struct {
	pipe     *pipeline.Pipeline
	settings *pipeline.Settings
}

func New(pipe *pipeline.Pipeline, settings *pipeline.Settings) *Handler {
	return &Handler{pipe: pipe, settings: settings}
}

// Handle proxies one Google-dialect request.
func (h *Handler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatus(400)
		return
	}

	path := h.redirectPath(c.Request.URL.Path)
	generative := isGenerative(path)
	wantStream := strings.Contains(path, ":streamGenerateContent") ||
		strings.Contains(c.GetHeader("Accept"), "text/event-stream")

	if generative && h.settings.NativeReasoning() {
		body = translator.EnsureIncludeThoughts(body)
	}

	ex := pipeline.Exchange{
		Method:            c.Request.Method,
		Path:              path,
		Query:             forwardedQuery(c),
		Headers:           forwardedHeaders(c),
		Body:              body,
		Generative:        generative,
		ClientWantsStream: wantStream,
		ErrFormat:         apierr.FormatGemini,
	}
	if !wantStream {
		ex.TransformBody = func(status int, body []byte) ([]byte, error) {
			if status >= 300 {
				return body, nil
			}
			return translator.RewriteInlineImages(body), nil
		}
	}

	h.pipe.Execute(c.Writer, c.Request, ex)
}

func isGenerative(path string) bool {
	return strings.Contains(path, ":generateContent") ||
		strings.Contains(path, ":streamGenerateContent")
}

// redirectPath applies the model redirect to the model segment of the path.
func (h *Handler) redirectPath(path string) string {
	const marker = "/models/"
	i := strings.Index(path, marker)
	if i < 0 {
		return path
	}
	rest := path[i+len(marker):]
	j := strings.IndexByte(rest, ':')
	if j < 0 {
		return path
	}
	return path[:i+len(marker)] + h.settings.RedirectModel(rest[:j]) + rest[j:]
}

// forwardedQuery copies the query string minus the key parameter, which is
// client authentication and must never reach the upstream.
func forwardedQuery(c *gin.Context) map[string]string {
	out := map[string]string{}
	for k, vs := range c.Request.URL.Query() {
		if k == "key" || len(vs) == 0 {
			continue
		}
		out[k] = vs[0]
	}
	return out
}

func forwardedHeaders(c *gin.Context) map[string]string {
	out := map[string]string{}
	if ct := c.ContentType(); ct != "" {
		out["Content-Type"] = ct
	}
	return out
}
