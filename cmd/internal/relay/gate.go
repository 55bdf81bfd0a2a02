package relay

import (
	"fmt"

	"cipherchat/cmd/internal/codec"
	v1 "cipherchat/shared/contracts/relay/v1"
)

// Outcome is the result of checking a connection's first frame.
type Outcome int

const (
	OutcomeRejected Outcome = iota
	OutcomeAuthenticated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	default:
		return "rejected"
	}
}

// AuthResult carries the decision plus the frame to send back to the peer.
type AuthResult struct {
	Outcome  Outcome
	Username string
	// Reply is the welcome frame on success and the plaintext rejection notice otherwise.
	Reply []byte
	// Err explains a rejection.
	Err error
}

// Gate decides whether a connection's first frame proves knowledge of the shared key.
// A frame that decodes under the key authenticates; anything else rejects. There is
// exactly one attempt per connection.
type Gate struct {
	codec *codec.Codec
}

// NewGate returns a Gate that checks frames with c.
func NewGate(c *codec.Codec) *Gate {
	return &Gate{codec: c}
}

// Authenticate classifies the first frame received from peerAddr.
func (g *Gate) Authenticate(frame []byte, peerAddr string) AuthResult {
	msg, err := g.codec.DecodeMessage(frame)
	if err != nil {
		return g.reject(fmt.Errorf("%w: %w", ErrRejected, err))
	}

	welcome, err := g.codec.EncodeMessage(codec.NewMessage(v1.ServerUsername, []byte(v1.WelcomeText(peerAddr))))
	if err != nil {
		return g.reject(fmt.Errorf("encode welcome: %w", err))
	}

	return AuthResult{
		Outcome:  OutcomeAuthenticated,
		Username: msg.User(),
		Reply:    welcome,
	}
}

func (g *Gate) reject(err error) AuthResult {
	return AuthResult{
		Outcome: OutcomeRejected,
		Reply:   v1.RejectionFrame(g.codec.FrameSize()),
		Err:     err,
	}
}
