// Package session tracks permission sessions: the period in which a user
// exercises their permissions, and the actions performed within it.
//
// A Manager issues sessions with 32 byte random tokens, ends them once,
// and appends actions to active sessions only. Ended sessions report
// their duration in whole minutes. Storage is pluggable through Store;
// MemoryStore is a concurrent in-memory implementation.
//
//	m := session.New(session.NewMemoryStore())
//	s, err := m.Start(ctx, userID, ip, userAgent, session.WithLimit(3))
//	if err != nil {
//		return err
//	}
//	_, _ = m.LogAction(ctx, s.Token, "chart_open", map[string]any{"patient": pid}, "")
//	_, _ = m.End(ctx, s.Token)
package session
