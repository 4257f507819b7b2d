package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// HashRecord computes the SHA-256 digest of a record over its RFC 8785
// canonical JSON form. The record's own Hash field must be empty when the
// digest is computed.
func HashRecord(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain recomputes the stored hashes of a details projection and
// checks each response record against the request record it claims to
// follow. It returns the first mismatch found.
func VerifyChain(d *ActionDetails) error {
	req := RequestRecord{
		ActionID:  d.ActionID,
		Command:   d.Command,
		AgentIDs:  d.AgentIDs,
		Hosts:     d.Hosts,
		Comment:   d.Comment,
		CreatedBy: d.CreatedBy,
		CreatedAt: d.CreatedAt,
	}

	reqHash, err := HashRecord(req)
	if err != nil {
		return err
	}

	for _, resp := range d.Responses {
		if resp.RequestHash != "" && resp.RequestHash != reqHash {
			return fmt.Errorf("response for agent %s chains to %s, want %s",
				resp.AgentID, resp.RequestHash, reqHash)
		}

		stored := resp.Hash
		resp.Hash = ""
		got, err := HashRecord(resp)
		if err != nil {
			return err
		}
		if stored != "" && got != stored {
			return fmt.Errorf("response record for agent %s does not match its hash", resp.AgentID)
		}
	}

	return nil
}
