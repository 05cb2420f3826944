package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/fleetguard/internal/adapters/repository"
	"github.com/okian/fleetguard/internal/domain/assistant"
	"github.com/okian/fleetguard/internal/domain/model"
)

// chatRecommendations bounds the recommendations loaded as chat context.
const chatRecommendations = 5

// ChatStyle selects how a question is answered.
type ChatStyle int

const (
	// ChatAssistant answers every intent the question names.
	ChatAssistant ChatStyle = iota
	// ChatBot answers the first intent the message matches.
	ChatBot
)

// found drops ErrNotFound so a missing record reads as nil.
func found(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

// chatContext loads the newest decisions of a vehicle.
func (s *Service) chatContext(ctx context.Context, vehicleID string) (*assistant.Context, error) {
	var c assistant.Context
	risk, err := s.LatestRisk(ctx, vehicleID)
	if err = found(err); err != nil {
		return nil, fmt.Errorf("load risk: %w", err)
	}
	c.Risk = risk

	pred, err := s.LatestPrediction(ctx, vehicleID)
	if err = found(err); err != nil {
		return nil, fmt.Errorf("load prediction: %w", err)
	}
	c.Prediction = pred

	diag, err := latest[model.Diagnostics](ctx, s.store, model.CollectionDiagnostics, vehicleID)
	if err = found(err); err != nil {
		return nil, fmt.Errorf("load diagnostics: %w", err)
	}
	c.Diagnostics = diag

	tel, err := s.LatestTelemetry(ctx, vehicleID)
	if err = found(err); err != nil {
		return nil, fmt.Errorf("load telemetry: %w", err)
	}
	c.Telemetry = tel

	if c.Recommendations, err = s.Recommendations(ctx, vehicleID, chatRecommendations); err != nil {
		return nil, fmt.Errorf("load recommendations: %w", err)
	}
	return &c, nil
}

// Chat answers a free-text question about one vehicle from its stored
// decisions. A vehicle with no records still gets an answer.
func (s *Service) Chat(ctx context.Context, vehicleID, question string, style ChatStyle) (*assistant.Reply, error) {
	c, err := s.chatContext(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	var r assistant.Reply
	if style == ChatBot {
		r = assistant.Converse(question, c)
	} else {
		r = assistant.Assist(question, c)
	}
	return &r, nil
}
