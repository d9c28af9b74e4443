// Package client is the moderation orchestrator. It validates content, fans
// out to the classifiers, applies the policy profile of the content type, and
// records denials against the user's strike ledger.
package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/heibot/safety/classifier"
	"github.com/heibot/safety/hooks"
	"github.com/heibot/safety/ledger"
	"github.com/heibot/safety/policy"
	"github.com/heibot/safety/store"
)

// Masker rewrites listed words into an equal-length mask.
type Masker interface {
	Mask(text string) (string, bool)
}

// Options configures the moderation client.
type Options struct {
	// Store persists log entries. Required unless Ledger is set.
	Store store.LogStore

	// Ledger records denials. Built over Store when nil.
	Ledger *ledger.Ledger

	// Hooks receives blocked-content and strike events.
	Hooks hooks.Hooks

	Logger *zap.Logger

	// Classifier backends. Each is wrapped with Resilient; nil backends are
	// skipped.
	Faces  classifier.FaceDetector
	Images classifier.ImageSafetyClassifier
	Texts  classifier.TextClassifier

	Resilient classifier.ResilientConfig

	// Rules are the policy tables; nil means policy.DefaultRules.
	Rules *policy.Rules

	// Masker backs Sanitize; nil means the chat word lists.
	Masker Masker

	// StoreTimeout bounds recording a denial.
	StoreTimeout time.Duration

	Now func() time.Time
}

// DefaultStoreTimeout bounds persistence on the request path.
const DefaultStoreTimeout = 3 * time.Second

// DefaultOptions returns default options.
func DefaultOptions() Options {
	return Options{
		Hooks:        hooks.NopHooks{},
		Resilient:    classifier.DefaultResilientConfig(),
		StoreTimeout: DefaultStoreTimeout,
	}
}
