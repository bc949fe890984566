package openai

import (
	"io"
	"net/http"

	"aistudio2api-go/internal/apierr"
	"aistudio2api-go/internal/pipeline"
	"aistudio2api-go/internal/translator"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

// Handler serves the OpenAI compatibility surface, translating requests and
// responses to and from the Google dialect.
type Handler struct {
	pipe     *pipeline.Pipeline
	settings *pipeline.Settings
}

func New(pipe *pipeline.Pipeline, settings *pipeline.Settings) *Handler {
	return &Handler{pipe: pipe, settings: settings}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !gjson.ValidBytes(body) {
		writeBadRequest(c, "Request body is not valid JSON")
		return
	}

	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		writeBadRequest(c, "Missing required field: model")
		return
	}
	model = h.settings.RedirectModel(model)

	stream := gjson.GetBytes(body, "stream").Bool()
	includeThoughts := h.settings.OpenAIReasoning()

	geminiBody := translator.OpenAIToGeminiRequest(body, includeThoughts)
	path, query := translator.GeminiEndpoint(model, stream)
	rid := pipeline.NewRequestID()

	ex := pipeline.Exchange{
		Method:            http.MethodPost,
		Path:              path,
		Query:             query,
		Headers:           map[string]string{"Content-Type": "application/json"},
		Body:              geminiBody,
		Generative:        true,
		ClientWantsStream: stream,
		ErrFormat:         apierr.FormatOpenAI,
		TransformChunk: func(data string) ([]byte, bool) {
			return translator.GeminiStreamChunkToOpenAI([]byte(data), model, rid)
		},
		TransformBody: func(status int, body []byte) ([]byte, error) {
			if status >= 300 {
				return body, nil
			}
			return translator.GeminiResponseToOpenAI(body, model, rid)
		},
	}

	h.pipe.Execute(c.Writer, c.Request, ex)
}

func writeBadRequest(c *gin.Context, message string) {
	apiErr := apierr.New(http.StatusBadRequest, "invalid_request", "invalid_request_error", message)
	payload, err := apiErr.ToJSON(apierr.FormatOpenAI)
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	c.Data(http.StatusBadRequest, "application/json", payload)
	c.Abort()
}
