// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// AnswerFunc produces the raw answer to an offer. address is the serial
// number for remote offers and the IP for local ones.
type AnswerFunc func(ctx context.Context, address string, offer []byte) ([]byte, error)

// SentOffer records one offer a MemorySignaler carried.
type SentOffer struct {
	Remote  bool
	Address string
	Offer   Offer
}

// MemorySignaler is an in-process Signaler for tests. Every offer is
// recorded and handed to the answer function.
type MemorySignaler struct {
	answer AnswerFunc

	mu     sync.Mutex
	offers []SentOffer
}

// NewMemorySignaler returns a signaler answering through answer.
func NewMemorySignaler(answer AnswerFunc) *MemorySignaler {
	return &MemorySignaler{answer: answer}
}

func (s *MemorySignaler) SendOfferRemote(ctx context.Context, serial string, offer []byte) ([]byte, error) {
	return s.exchange(ctx, true, serial, offer)
}

func (s *MemorySignaler) SendOfferLocal(ctx context.Context, ip string, offer []byte) ([]byte, error) {
	return s.exchange(ctx, false, ip, offer)
}

func (s *MemorySignaler) exchange(ctx context.Context, remote bool, address string, offer []byte) ([]byte, error) {
	var decoded Offer
	if err := json.Unmarshal(offer, &decoded); err != nil {
		return nil, fmt.Errorf("memory signaler: decoding offer: %w", err)
	}
	s.mu.Lock()
	s.offers = append(s.offers, SentOffer{Remote: remote, Address: address, Offer: decoded})
	s.mu.Unlock()
	return s.answer(ctx, address, offer)
}

// Offers returns every offer carried so far.
func (s *MemorySignaler) Offers() []SentOffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentOffer(nil), s.offers...)
}
