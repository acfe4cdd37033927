// Package wren is a transport-free ESMTP protocol engine.
//
// The engine owns the protocol: it splits bytes into lines, parses commands,
// runs the session state machine, decodes message content and renders
// replies. It never reads from or writes to a connection. The caller feeds
// it bytes and writes back the Responses it returns, which makes it usable
// over TCP, in tests, behind a proxy or inside a fuzzer.
//
// # Quick Start
//
//	engine, err := wren.New("mx.example.com").
//	    MaxMessageSize(25 << 20).
//	    StartTLS().
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sess := engine.NewSession(handler, wren.PeerInfo{Addr: conn.RemoteAddr()})
//	defer sess.Close(ctx)
//	conn.Write(sess.Greet(ctx).Bytes())
//
//	for {
//	    n, err := conn.Read(buf)
//	    if err != nil {
//	        return
//	    }
//	    for _, r := range sess.Feed(ctx, buf[:n]) {
//	        conn.Write(r.Bytes())
//	        switch r.Action {
//	        case wren.ActionClose:
//	            return
//	        case wren.ActionUpgradeTLS:
//	            // Handshake, then sess.TLSStarted().
//	        }
//	    }
//	}
//
// The server package implements this loop with timeouts, STARTTLS and
// connection limits.
//
// # Handlers
//
// Each protocol event is passed to a Handler, which answers with a
// Disposition: Accept, AcceptWith a custom reply, Reject with a 4xx or 5xx
// reply, or Fail for an internal fault. Embed NopHandler to implement only
// some events, or use Callbacks with plain functions.
//
// # Line Endings
//
// Commands may end in bare LF. Message content may not: a "." line ended
// by bare LF is content, not the end of data, so a message cannot smuggle a
// second transaction past a server that disagrees about line endings.
package wren
