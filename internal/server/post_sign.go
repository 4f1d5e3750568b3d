package server

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/aweris/signproxy"
	"github.com/aweris/signproxy/internal/compression"
)

func postSignHandler(s *Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := c.Request()
		log := s.Log.With().Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).Logger()

		boundary, ok := signproxy.BoundaryFromContentType(r.Header.Get(echo.HeaderContentType))
		if !ok {
			return badRequest(c, "expected form data")
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return badRequest(c, err.Error())
		}
		form, err := signproxy.ParseMultipart(body, boundary)
		if err != nil {
			return badRequest(c, err.Error())
		}
		req, err := signproxy.RequestFromForm(form)
		if err != nil {
			return badRequest(c, err.Error())
		}

		// Signing runs to completion even if the client goes away.
		res, err := s.Service.Sign(context.WithoutCancel(r.Context()), req)
		if err != nil {
			log.Error().Err(err).Msg("failed to sign")
			return badRequest(c, err.Error())
		}

		rc, size, err := s.Service.Open(res.Output)
		if err != nil {
			log.Error().Err(err).Str("hash", res.Output.String()).Msg("failed to open result")
			return badRequest(c, err.Error())
		}
		defer rc.Close()

		h := c.Response().Header()
		h.Set(HeaderOutcome, string(res.Outcome))
		h.Set(HeaderContentHash, res.Output.String())
		h.Add(echo.HeaderVary, echo.HeaderAcceptEncoding)

		if !s.Compressor.Negotiate(r.Header.Get(echo.HeaderAcceptEncoding), size) {
			h.Set(echo.HeaderContentLength, strconv.FormatInt(size, 10))
			return c.Stream(http.StatusOK, echo.MIMEOctetStream, rc)
		}

		h.Set(echo.HeaderContentEncoding, compression.Encoding)
		h.Set(echo.HeaderContentType, echo.MIMEOctetStream)
		c.Response().WriteHeader(http.StatusOK)
		zw, err := s.Compressor.NewWriter(c.Response())
		if err != nil {
			return err
		}
		if _, err := io.Copy(zw, rc); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	}
}
