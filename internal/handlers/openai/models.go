package openai

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"aistudio2api-go/internal/apierr"
	"aistudio2api-go/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

const modelsTimeout = 60 * time.Second

// ListModels handles GET /v1/models by fetching the upstream model list and
// reshaping it into the OpenAI list envelope.
func (h *Handler) ListModels(c *gin.Context) {
	ex := pipeline.Exchange{
		Method:         http.MethodGet,
		Path:           "/v1beta/models",
		ErrFormat:      apierr.FormatOpenAI,
		CollectTimeout: modelsTimeout,
		TransformBody:  translateModelList,
	}
	h.pipe.Execute(c.Writer, c.Request, ex)
}

func translateModelList(status int, body []byte) ([]byte, error) {
	if status >= 300 {
		return body, nil
	}

	created := time.Now().Unix()
	data := make([]map[string]any, 0)
	for _, m := range gjson.GetBytes(body, "models").Array() {
		id := strings.TrimPrefix(m.Get("name").String(), "models/")
		if id == "" {
			continue
		}
		data = append(data, map[string]any{
			"id":       id,
			"object":   "model",
			"created":  created,
			"owned_by": "google",
		})
	}
	return json.Marshal(map[string]any{
		"object": "list",
		"data":   data,
	})
}
