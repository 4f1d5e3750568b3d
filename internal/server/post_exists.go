package server

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// maxHashBody bounds the /exists body; a hash is 32 characters.
const maxHashBody = 1024

func postExistsHandler(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxHashBody))
		if err != nil {
			return badRequest(c, err.Error())
		}
		return c.JSON(http.StatusOK, s.Service.Exists(string(body)))
	}
}
