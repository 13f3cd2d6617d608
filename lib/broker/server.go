// Copyright 2026 The pskd Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/base64"
	"log/slog"
	"sync"

	"github.com/pskd-project/pskd/lib/envelope"
)

// Server applies SetPsk requests through a PSKSetter. HandleMessage is
// safe for concurrent use; requests are applied one at a time.
type Server struct {
	mu      sync.Mutex
	backend PSKSetter
	logger  *slog.Logger
}

// NewServer returns a Server applying requests through backend.
func NewServer(backend PSKSetter, logger *slog.Logger) *Server {
	return &Server{backend: backend, logger: logger}
}

// HandleMessage processes one request envelope and writes the response
// envelope into response, returning the number of bytes written
// (always ResponseSize on success).
//
// Malformed requests return an error matching ErrInvalidMessage and
// leave response untouched. A failure to apply the PSK is not an error
// of HandleMessage: it is logged and reported through the response's
// return code.
func (s *Server) HandleMessage(request []byte, response []byte) (int, error) {
	config, err := DecodeSetPSKRequest(request)
	if err != nil {
		return 0, err
	}
	defer config.PSK.Close()

	if len(response) < ResponseSize {
		return 0, ErrInvalidMessage
	}

	s.mu.Lock()
	applyErr := s.backend.SetPSK(config)
	s.mu.Unlock()

	if applyErr != nil {
		s.logger.Warn("setting PSK failed",
			"interface", config.Interface,
			"peer", base64.StdEncoding.EncodeToString(config.PeerID[:]),
			"error", applyErr,
		)
	}

	code := ReturnCodeFor(applyErr)
	return copy(response, envelope.Encode(uint8(MsgSetPSK), SetPSKResponse{ReturnCode: uint8(code)})), nil
}
