package stepup

import "strings"

// Policy tokens with a special meaning. Any other token names an authenticator directly.
const (
	TokenCurrent    = "CURRENT"
	TokenEndpoint2F = "ENDPOINT_2F"
	TokenSession1F  = "SESSION_1F"
	TokenSession2F  = "SESSION_2F"
)

type tokenKind int

const (
	kindCurrent tokenKind = iota
	kindEndpoint2F
	kindSession1F
	kindSession2F
	kindDirect
)

type policyToken struct {
	kind            tokenKind
	authenticatorID string // kindDirect only
}

func (t policyToken) String() string {
	switch t.kind {
	case kindCurrent:
		return TokenCurrent
	case kindEndpoint2F:
		return TokenEndpoint2F
	case kindSession1F:
		return TokenSession1F
	case kindSession2F:
		return TokenSession2F
	default:
		return t.authenticatorID
	}
}

// parsePolicy splits a whitespace separated policy into ordered tokens.
func parsePolicy(spec string) []policyToken {
	fields := strings.Fields(spec)
	tokens := make([]policyToken, 0, len(fields))
	for _, field := range fields {
		switch field {
		case TokenCurrent:
			tokens = append(tokens, policyToken{kind: kindCurrent})
		case TokenEndpoint2F:
			tokens = append(tokens, policyToken{kind: kindEndpoint2F})
		case TokenSession1F:
			tokens = append(tokens, policyToken{kind: kindSession1F})
		case TokenSession2F:
			tokens = append(tokens, policyToken{kind: kindSession2F})
		default:
			tokens = append(tokens, policyToken{kind: kindDirect, authenticatorID: field})
		}
	}
	return tokens
}
