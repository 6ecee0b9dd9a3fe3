// Package ws implements the WebSocket hub for linekpi-server.
//
// Every interval (default 5s) the hub sends each client a "snapshot" of the
// lines it follows. Between ticks the receiver reports writes through
// Hub.Notify, and clients following a changed line get an "update" right
// away. Connecting with ?line=id restricts a client to one line.
//
// Message format sent to clients:
//
//	{
//	  "event": "snapshot" | "update",
//	  "data":  { /* same schema as GET /api/v1/snapshot */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The hub is mounted at /ws/stream by the server.
package ws
