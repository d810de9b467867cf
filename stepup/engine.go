package stepup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-session-authn/authn"
	"github.com/rs/zerolog/log"
)

// Engine decides whether an entity must perform additional authentication before a
// sensitive operation, and with which authenticator. It never mutates sessions: after a
// successful step-up the caller records it with sessions.Manager.RecordAdditionalAuthentication.
type Engine struct {
	processor authn.Processor
	policy    string
	tokens    []policyToken
	enabled   bool
	entityID  int64
}

// NewEngine parses the policy once. An enabled engine with a blank policy is a
// configuration error.
func NewEngine(processor authn.Processor, policySpec string, enabled bool, entityID int64) (*Engine, error) {
	tokens := parsePolicy(policySpec)
	if enabled {
		if processor == nil {
			return nil, errors.New("[NewEngine] processor is required")
		}
		if len(tokens) == 0 {
			return nil, ErrEmptyPolicy
		}
	}
	return &Engine{
		processor: processor,
		policy:    strings.Join(strings.Fields(policySpec), " "),
		tokens:    tokens,
		enabled:   enabled,
		entityID:  entityID,
	}, nil
}

// CheckRequirements evaluates the policy against the request context.
// The returned error is reserved for processor failures.
func (e *Engine) CheckRequirements(ctx context.Context, actx *authn.Context) (Decision, error) {
	return e.check(ctx, actx, "")
}

// CheckCredentialRequirements evaluates the policy for an operation on the named
// credential, which is what the CURRENT token matches against.
func (e *Engine) CheckCredentialRequirements(ctx context.Context, actx *authn.Context, credentialName string) (Decision, error) {
	return e.check(ctx, actx, credentialName)
}

func (e *Engine) check(ctx context.Context, actx *authn.Context, credentialName string) (Decision, error) {
	if !e.enabled {
		return noStepUp(), nil
	}

	for _, token := range e.tokens {
		candidates, err := e.candidates(ctx, actx, token, credentialName)
		if err != nil {
			return Decision{}, fmt.Errorf("[Engine.check] resolving %s: %w", token, err)
		}
		for _, candidate := range candidates {
			usable, err := e.usable(ctx, candidate)
			if err != nil {
				return Decision{}, fmt.Errorf("[Engine.check] checking %s: %w", candidate.ID(), err)
			}
			if usable {
				log.Debug().Str("token", token.String()).Str("option_id", candidate.ID()).
					Int64("entity_id", e.entityID).Msg("Additional authentication required")
				return stepUpWith(candidate.ID()), nil
			}
		}
	}

	reason := fmt.Sprintf("no authenticator matching policy %q is usable by entity %d", e.policy, e.entityID)
	log.Error().Str("policy", e.policy).Int64("entity_id", e.entityID).
		Msg("Additional authentication is misconfigured: " + reason)
	return misconfigured(reason), nil
}

// candidates resolves a token to the authenticators it names in the current context.
func (e *Engine) candidates(ctx context.Context, actx *authn.Context, token policyToken, credentialName string) ([]authn.AuthenticatorRef, error) {
	switch token.kind {
	case kindCurrent:
		return currentCredentialAuthenticators(actx, credentialName), nil
	case kindEndpoint2F:
		// The processor's pick still goes through usable; that re-check is intentional
		return e.endpointSecondFactors(ctx, actx)
	case kindSession1F:
		session := actx.CurrentSession()
		if session == nil {
			return nil, nil
		}
		return authenticatorForOption(actx, session.FirstFactor.OptionID), nil
	case kindSession2F:
		session := actx.CurrentSession()
		if session == nil || session.SecondFactor == nil {
			return nil, nil
		}
		return authenticatorForOption(actx, session.SecondFactor.OptionID), nil
	default:
		if a, ok := actx.FindAuthenticator(token.authenticatorID); ok {
			return []authn.AuthenticatorRef{a}, nil
		}
		return nil, nil
	}
}

func currentCredentialAuthenticators(actx *authn.Context, credentialName string) []authn.AuthenticatorRef {
	if credentialName == "" {
		return nil
	}
	var found []authn.AuthenticatorRef
	for _, flow := range actx.CurrentFlows() {
		for _, a := range flow.FirstFactor {
			if a.LocalCredentialName() == credentialName {
				found = append(found, a)
			}
		}
	}
	return found
}

func (e *Engine) endpointSecondFactors(ctx context.Context, actx *authn.Context) ([]authn.AuthenticatorRef, error) {
	var found []authn.AuthenticatorRef
	for _, flow := range actx.CurrentFlows() {
		if len(flow.SecondFactor) == 0 {
			continue
		}
		a, err := e.processor.ResolveValidAuthenticator(ctx, flow, e.entityID)
		if err != nil {
			return nil, err
		}
		if a != nil {
			found = append(found, a)
		}
	}
	return found, nil
}

func authenticatorForOption(actx *authn.Context, optionID string) []authn.AuthenticatorRef {
	if a, ok := actx.FindAuthenticator(authn.AuthenticatorOnly(optionID)); ok {
		return []authn.AuthenticatorRef{a}
	}
	return nil
}

// usable reports whether the entity can be silently challenged with the authenticator.
func (e *Engine) usable(ctx context.Context, a authn.AuthenticatorRef) (bool, error) {
	if a.RequiresRedirect() {
		log.Debug().Str("option_id", a.ID()).Msg("Skipping authenticator requiring redirect for additional authentication")
		return false, nil
	}
	return e.processor.HasCredential(ctx, e.entityID, a)
}
