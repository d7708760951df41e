package handlers

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/labstack/echo/v4"
)

// readBody drains c's request body once. CreateWorkflow needs the raw
// bytes for schema validation and echo.Context.Bind consumes the body, so
// the request is read here and Bind is pointed at the buffered copy.
func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, err
	}
	c.Request().Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func bindToJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
