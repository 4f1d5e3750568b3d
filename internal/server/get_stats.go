package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func getStatsHandler(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		st, err := s.Service.Stats()
		if err != nil {
			s.Log.Error().Err(err).Msg("failed to read stats")
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, st)
	}
}
