package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shineum/inkpost/internal/fault"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError responds with the status mapped from err's fault code. Untagged
// errors become a generic 500 and are only described in the log.
func writeError(c *gin.Context, err error) {
	code := fault.CodeOf(err)
	status := fault.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"path", c.FullPath(),
			"request_id", c.GetString(requestIDKey),
			"code", code,
			"error", err,
		)
	}
	c.JSON(status, errorBody{Error: string(code), Message: fault.MessageOf(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: "bad_request", Message: msg})
}
