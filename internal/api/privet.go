// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/loachfighter/twain-direct/internal/auth"
	"github.com/loachfighter/twain-direct/internal/device"
	xglog "github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/protocol"
)

func (s *Server) handleInfo(extended bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.ExtractToken(r); !ok {
			writeJSON(w, http.StatusOK, map[string]string{
				"error":       protocol.ErrorInvalidToken,
				"description": "missing X-Privet-Token header",
			})
			return
		}
		writeJSON(w, http.StatusOK, s.dev.Info(extended))
	}
}

// handleSession runs one command. A parked waitForEvents keeps the request
// open until the scanner answers or the client goes away.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request_too_large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable_body"})
		return
	}

	token, present := auth.ExtractToken(r)
	req := device.Request{
		Body:         body,
		Caller:       callerHost(r.RemoteAddr),
		Token:        token,
		TokenPresent: present,
	}

	out := make(chan protocol.Reply, 1)
	s.dev.Dispatch(r.Context(), req, out)

	select {
	case reply := <-out:
		writeJSON(w, http.StatusOK, reply)
	case <-r.Context().Done():
		s.dev.Abandon(out)
		logger := xglog.WithContext(r.Context(), s.logger)
		logger.Debug().
			Str(xglog.FieldCaller, req.Caller).
			Msg("client went away before the reply")
	}
}

func callerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
