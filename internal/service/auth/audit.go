package auth

import (
	"context"
	"fmt"
	"io"
	"time"
)

// History returns the identity's login attempts, newest first.
func (s *AuthService) History(ctx context.Context, identityID string, limit int) ([]LoginAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListLoginAttempts(ctx, identityID, limit)
}

// ExportHistory writes attempts as tab-delimited lines:
// timestamp, source IP, device, method, outcome.
func ExportHistory(w io.Writer, attempts []LoginAttempt) error {
	for _, a := range attempts {
		outcome := "ok"
		if !a.Success {
			outcome = a.Reason
			if outcome == "" {
				outcome = "failed"
			}
		}
		_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.Timestamp.UTC().Format(time.RFC3339),
			a.IP,
			a.DeviceID,
			a.Method,
			outcome,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
