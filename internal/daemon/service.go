package daemon

import (
	"encoding/json"
	"log"
	"strings"

	"ttrace/internal/protocol"
)

// result is what a connection handler should do after a request was applied.
type result struct {
	reply    []byte
	shutdown bool
}

// dispatch applies one request line to the ledger. Malformed input is logged
// and dropped without a reply.
func (s *Server) dispatch(line string) result {
	req, err := protocol.Parse(line)
	if err != nil {
		if protocol.IsLegacyPing(line) {
			return result{reply: []byte(protocol.Pong)}
		}
		log.Printf("Dropping request %q: %v", strings.TrimSpace(line), err)
		return result{}
	}

	switch r := req.(type) {
	case protocol.HealthCheck:
		return result{reply: []byte(protocol.Pong)}

	case protocol.CommandBegin:
		if replaced := s.ledger.Begin(r.PID, r.Command); replaced {
			log.Printf("pid %d began %q before its previous command ended; discarding the earlier timing", r.PID, r.Command)
		}
		return result{}

	case protocol.CommandEnd:
		s.ledger.End(r.PID, r.ExitCode)
		return result{}

	case protocol.GetStats:
		snap, err := s.ledger.Persist(s.store.Save)
		if err != nil {
			log.Printf("Failed to save state on %s: %v", protocol.VerbGetStats, err)
		}
		body, err := json.Marshal(snap)
		if err != nil {
			log.Printf("Failed to encode stats: %v", err)
			return result{}
		}
		return result{reply: body}

	case protocol.Stop:
		return result{shutdown: true}

	default:
		log.Printf("Unhandled request type %T", req)
		return result{}
	}
}
