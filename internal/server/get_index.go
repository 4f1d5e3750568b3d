package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const index = `signproxy

POST /exists  body: file hash          -> true | false
POST /sign    form: file, hash, isNest -> signed file
GET  /stats                            -> cache statistics
`

func getIndexHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, index)
	}
}
