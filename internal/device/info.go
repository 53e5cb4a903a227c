// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package device

import (
	"strconv"
	"time"

	"github.com/loachfighter/twain-direct/internal/protocol"
)

// Info builds the privet info reply. Every call carries a fresh token that
// is accepted by createSession for the creation window.
func (s *Scanner) Info(extended bool) protocol.InfoReply {
	reg, _ := s.opts.Registration.Current()

	s.mu.Lock()
	state := "idle"
	if s.session.Active() {
		state = "processing"
	}
	s.mu.Unlock()

	reply := protocol.InfoReply{
		Version:         "1.0",
		Name:            reg.FriendlyName,
		Description:     reg.Note,
		URL:             s.opts.BaseURL,
		Type:            "twaindirect",
		DeviceState:     state,
		ConnectionState: "offline",
		Manufacturer:    reg.Manufacturer,
		Model:           reg.Model,
		SerialNumber:    reg.SerialNumber,
		Firmware:        reg.Firmware,
		Uptime:          strconv.FormatInt(int64(time.Since(s.started)/time.Second), 10),
		PrivetToken:     s.opts.Authenticator.Issue(),
		API:             []string{protocol.PathSession},
	}
	if extended {
		reply.Clouds = &[]string{}
	}
	return reply
}
