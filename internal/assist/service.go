// Package assist calls a text-generation API to pre-fill task
// descriptions and point suggestions. It degrades to fixed fallbacks
// when the API is unconfigured or failing and never surfaces an error
// to the caller.
package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	fallbackUnavailable = "AI assistant unavailable. Please configure ASSIST_URL."
	fallbackFailed      = "Failed to generate description. Please try again."
	fallbackEmpty       = "No description generated."

	// Point fallbacks mirror the UI defaults: 10 when the assistant is
	// disabled, 50 when a call fails or returns garbage.
	pointsDisabled = 10
	pointsOnError  = 50
)

// Config holds the generation API settings
type Config struct {
	URL    string
	APIKey string
}

// Service is the text-generation collaborator
type Service struct {
	config Config
	client *http.Client
}

func NewService(config Config) *Service {
	return &Service{
		config: config,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled reports whether the assistant is configured.
func (s *Service) Enabled() bool {
	return s.config.URL != ""
}

// DescribeTask drafts a short task description.
func (s *Service) DescribeTask(ctx context.Context, title, role string) string {
	if !s.Enabled() {
		return fallbackUnavailable
	}

	prompt := fmt.Sprintf(
		"Write a concise, professional, and clear task description for a task titled %q. The task is assigned to a %s. Keep it under 50 words. Format as plain text.",
		title, role,
	)
	text, err := s.generate(ctx, prompt)
	if err != nil {
		log.Printf("assist: describe task: %v", err)
		return fallbackFailed
	}
	if strings.TrimSpace(text) == "" {
		return fallbackEmpty
	}
	return strings.TrimSpace(text)
}

// SuggestPoints proposes a point value for a task.
func (s *Service) SuggestPoints(ctx context.Context, title, difficulty string) int {
	if !s.Enabled() {
		return pointsDisabled
	}

	prompt := fmt.Sprintf(
		"Suggest a point value (integer between 10 and 100) for a workplace task titled %q with difficulty %q. Return ONLY the number.",
		title, difficulty,
	)
	text, err := s.generate(ctx, prompt)
	if err != nil {
		log.Printf("assist: suggest points: %v", err)
		return pointsOnError
	}
	points, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return pointsOnError
	}
	return points
}

func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("marshal prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call generation api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation api status %d", resp.StatusCode)
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return payload.Text, nil
}
